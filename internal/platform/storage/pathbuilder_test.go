package storage

import "testing"

func TestBuildContractPDFPathDefaultsFileName(t *testing.T) {
	path, err := BuildObjectPath(PurposeContractPDF, PathParams{OwnerID: "sess01", ContractID: "ctr_01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expected := "contracts/sess01/ctr_01/contrato.pdf"; path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildOrderPDFPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeOrderPDF, PathParams{ContractID: "ctr_01", OrderID: "ord_01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expected := "contracts/ctr_01/orders/ord_01.pdf"; path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	cases := []PathParams{
		{OwnerID: "../bad", ContractID: "ctr"},
		{OwnerID: "sess", ContractID: "a/b"},
		{OwnerID: "", ContractID: "ctr"},
		{OwnerID: "sess", ContractID: "ctr", FileName: "..pdf"},
	}
	for _, params := range cases {
		if _, err := BuildObjectPath(PurposeContractPDF, params); err == nil {
			t.Fatalf("expected error for %+v", params)
		}
	}
}

func TestBuildObjectPathUnknownPurpose(t *testing.T) {
	if _, err := BuildObjectPath("avatar", PathParams{}); err == nil {
		t.Fatalf("expected unsupported purpose error")
	}
}
