package services

import (
	"errors"
	"fmt"
	"strings"
)

// WizardStep is a screen of the booking wizard.
type WizardStep string

const (
	WizardStepIdle        WizardStep = "idle"
	WizardStepStoreUpsell WizardStep = "store_upsell"
	WizardStepContract    WizardStep = "contract"
	WizardStepForm        WizardStep = "form"
	WizardStepPreview     WizardStep = "preview"
	WizardStepComplete    WizardStep = "complete"
	WizardStepExited      WizardStep = "exited"
)

var (
	// ErrWizardInvalidTransition is returned when an action does not apply to the current step.
	ErrWizardInvalidTransition = errors.New("booking wizard: invalid transition")
	// ErrWizardEmptyCart blocks every step while the cart is empty.
	ErrWizardEmptyCart = errors.New("booking wizard: cart is empty")
	// ErrWizardSignatureRequired blocks confirmation until the contract is signed.
	ErrWizardSignatureRequired = errors.New("booking wizard: signature required")
	// ErrWizardBusy blocks confirmation while a PDF or payment operation is in flight.
	ErrWizardBusy = errors.New("booking wizard: operation in progress")
)

// WizardOptions carries session-scoped flags into the wizard.
type WizardOptions struct {
	// StorePopupSeen suppresses the one-shot store upsell.
	StorePopupSeen bool
}

// BookingWizard sequences contract, form, preview and completion for one
// booking attempt. It is not safe for concurrent use.
type BookingWizard struct {
	cart            *CartStore
	step            WizardStep
	storePopupSeen  bool
	contractSkipped bool
	checkoutStarted bool
	busy            bool
	signature       []byte
	form            BookingFormData
}

// NewBookingWizard binds a wizard to the session cart.
func NewBookingWizard(cart *CartStore, opts WizardOptions) (*BookingWizard, error) {
	if cart == nil {
		return nil, errors.New("booking wizard: cart store is required")
	}
	return &BookingWizard{
		cart:           cart,
		step:           WizardStepIdle,
		storePopupSeen: opts.StorePopupSeen,
	}, nil
}

// Step returns the current step.
func (w *BookingWizard) Step() WizardStep { return w.step }

// StorePopupSeen reports whether the upsell latch has fired.
func (w *BookingWizard) StorePopupSeen() bool { return w.storePopupSeen }

// CheckoutStarted reports whether confirmation handed off to checkout.
func (w *BookingWizard) CheckoutStarted() bool { return w.checkoutStarted }

// Signed reports whether a signature has been captured.
func (w *BookingWizard) Signed() bool { return len(w.signature) > 0 }

// Signature returns the captured signature bytes.
func (w *BookingWizard) Signature() []byte { return append([]byte(nil), w.signature...) }

// EmptyCartNotice reports whether the empty-cart screen replaces the step UI.
// It is evaluated live against the cart on every call.
func (w *BookingWizard) EmptyCartNotice() bool {
	switch w.step {
	case WizardStepIdle, WizardStepComplete, WizardStepExited:
		return false
	}
	return w.cart.IsEmpty()
}

// Form returns the accumulated booking data. Until checkout starts the cart
// contents are read live so previews reflect the current cart.
func (w *BookingWizard) Form() BookingFormData {
	form := w.form
	if !w.checkoutStarted {
		form.CartItems = w.cart.ServiceItems()
		form.StoreItems = w.cart.StoreItems()
	}
	return form
}

// Start resolves the initial step. A cart with only store items skips the
// contract; otherwise the contract is entered, possibly preempted by the upsell.
func (w *BookingWizard) Start() (WizardStep, error) {
	if w.step != WizardStepIdle && w.step != WizardStepExited {
		return w.step, nil
	}
	if w.cart.IsEmpty() {
		return w.step, ErrWizardEmptyCart
	}
	w.form = BookingFormData{}
	w.signature = nil
	w.contractSkipped = false
	if len(w.cart.ServiceItems()) == 0 {
		w.contractSkipped = true
		w.step = WizardStepForm
		return w.step, nil
	}
	w.enterContract()
	return w.step, nil
}

func (w *BookingWizard) enterContract() {
	if !w.storePopupSeen && len(w.cart.StoreItems()) == 0 {
		w.storePopupSeen = true
		w.step = WizardStepStoreUpsell
		return
	}
	w.step = WizardStepContract
}

// AcceptUpsell adds the chosen store products and returns to the contract.
func (w *BookingWizard) AcceptUpsell(products []LineItem) error {
	if err := w.require(WizardStepStoreUpsell); err != nil {
		return err
	}
	for _, product := range products {
		if !product.IsStore() {
			return fmt.Errorf("%w: upsell item %s is not a store product", ErrCartInvalidInput, product.ID)
		}
	}
	for _, product := range products {
		if err := w.cart.AddItem(product); err != nil {
			return err
		}
	}
	w.step = WizardStepContract
	return nil
}

// DeclineUpsell returns to the contract without changing the cart.
func (w *BookingWizard) DeclineUpsell() error {
	if err := w.require(WizardStepStoreUpsell); err != nil {
		return err
	}
	w.step = WizardStepContract
	return nil
}

// AcceptContract moves to the booking form.
func (w *BookingWizard) AcceptContract() error {
	if err := w.require(WizardStepContract); err != nil {
		return err
	}
	w.step = WizardStepForm
	return nil
}

// RejectContract exits the wizard.
func (w *BookingWizard) RejectContract() error {
	if err := w.require(WizardStepContract); err != nil {
		return err
	}
	w.step = WizardStepExited
	return nil
}

// SubmitForm validates the data and moves to the preview. Validation failures
// leave the step unchanged.
func (w *BookingWizard) SubmitForm(form BookingFormData) error {
	if err := w.require(WizardStepForm); err != nil {
		return err
	}
	form.CartItems = w.cart.ServiceItems()
	form.StoreItems = w.cart.StoreItems()
	if err := ValidateBookingForm(form); err != nil {
		return err
	}
	w.form = form
	w.signature = nil
	w.step = WizardStepPreview
	return nil
}

// BackFromForm returns to the contract, or exits when the contract was skipped.
func (w *BookingWizard) BackFromForm() error {
	if w.step != WizardStepForm {
		return fmt.Errorf("%w: back from %s", ErrWizardInvalidTransition, w.step)
	}
	if w.contractSkipped {
		w.step = WizardStepExited
		return nil
	}
	w.step = WizardStepContract
	return nil
}

// BackFromPreview returns to the form unless checkout already started.
func (w *BookingWizard) BackFromPreview() error {
	if err := w.require(WizardStepPreview); err != nil {
		return err
	}
	if w.checkoutStarted {
		return fmt.Errorf("%w: checkout already started", ErrWizardInvalidTransition)
	}
	w.signature = nil
	w.step = WizardStepForm
	return nil
}

// Sign records the signature captured on the preview.
func (w *BookingWizard) Sign(signature []byte) error {
	if err := w.require(WizardStepPreview); err != nil {
		return err
	}
	if w.checkoutStarted {
		return fmt.Errorf("%w: checkout already started", ErrWizardInvalidTransition)
	}
	if len(strings.TrimSpace(string(signature))) == 0 {
		return ErrWizardSignatureRequired
	}
	w.signature = append([]byte(nil), signature...)
	return nil
}

// SetBusy marks a PDF or payment operation as in flight.
func (w *BookingWizard) SetBusy(busy bool) { w.busy = busy }

// CanConfirm reports whether the preview may hand off to checkout.
func (w *BookingWizard) CanConfirm() bool {
	return w.step == WizardStepPreview && !w.checkoutStarted && w.Signed() && !w.busy && !w.cart.IsEmpty()
}

// Confirm freezes the form and hands off to checkout.
func (w *BookingWizard) Confirm() (BookingFormData, error) {
	if err := w.require(WizardStepPreview); err != nil {
		return BookingFormData{}, err
	}
	switch {
	case w.checkoutStarted:
		return w.form, nil
	case !w.Signed():
		return BookingFormData{}, ErrWizardSignatureRequired
	case w.busy:
		return BookingFormData{}, ErrWizardBusy
	}
	w.form = w.Form()
	w.checkoutStarted = true
	return w.form, nil
}

// MarkComplete enters the terminal step and clears the cart.
func (w *BookingWizard) MarkComplete() error {
	if w.step == WizardStepComplete {
		return nil
	}
	if w.step != WizardStepPreview || !w.checkoutStarted {
		return fmt.Errorf("%w: complete from %s", ErrWizardInvalidTransition, w.step)
	}
	w.step = WizardStepComplete
	w.busy = false
	w.cart.Clear()
	return nil
}

func (w *BookingWizard) require(step WizardStep) error {
	if w.step != step {
		return fmt.Errorf("%w: expected %s, at %s", ErrWizardInvalidTransition, step, w.step)
	}
	if w.cart.IsEmpty() {
		return ErrWizardEmptyCart
	}
	return nil
}
