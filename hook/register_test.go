package hook

import "testing"

func TestParseRegister(t *testing.T) {
	reg, err := ParseRegister(" RBP ")
	if err != nil {
		t.Fatal(err)
	}

	if reg != RBP {
		t.Fatalf("expected rbp - got %s", reg)
	}

	reg, err = ParseRegister("r13")
	if err != nil {
		t.Fatal(err)
	}

	if reg != R13 || reg.low3() != 5 || !reg.extended() {
		t.Fatalf("unexpected encoding for %s", reg)
	}

	_, err = ParseRegister("eax")
	if err == nil {
		t.Fatal("expected an error for a 32-bit register name")
	}
}
