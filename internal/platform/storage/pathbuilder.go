package storage

import (
	"fmt"
	"strings"
)

// AssetPurpose selects the object layout for an upload.
type AssetPurpose string

const (
	PurposeContractPDF AssetPurpose = "contract-pdf"
	PurposeOrderPDF    AssetPurpose = "order-pdf"
)

// PathParams provide the identifiers composed into object keys.
type PathParams struct {
	// OwnerID is the signed-in user id, or the booking session id for guests.
	OwnerID    string
	ContractID string
	OrderID    string
	FileName   string
}

// PathBuilder composes the object path for a given asset purpose.
type PathBuilder func(PathParams) (string, error)

var pathBuilders = map[AssetPurpose]PathBuilder{
	PurposeContractPDF: buildContractPDFPath,
	PurposeOrderPDF:    buildOrderPDFPath,
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	builder, ok := pathBuilders[purpose]
	if !ok {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	return builder(params)
}

func buildContractPDFPath(params PathParams) (string, error) {
	owner, err := validateSegment("ownerID", params.OwnerID)
	if err != nil {
		return "", err
	}
	contractID, err := validateSegment("contractID", params.ContractID)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(params.FileName)
	if name == "" {
		name = "contrato.pdf"
	}
	fileName, err := validateFileName(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("contracts/%s/%s/%s", owner, contractID, fileName), nil
}

func buildOrderPDFPath(params PathParams) (string, error) {
	contractID, err := validateSegment("contractID", params.ContractID)
	if err != nil {
		return "", err
	}
	orderID, err := validateSegment("orderID", params.OrderID)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(params.FileName)
	if name == "" {
		name = fmt.Sprintf("%s.pdf", orderID)
	}
	fileName, err := validateFileName(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("contracts/%s/orders/%s", contractID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	return validateSegment("fileName", value)
}
