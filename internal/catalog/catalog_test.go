package catalog

import "testing"

func TestSelection(t *testing.T) {
	tests := []struct {
		sel  Selection
		want bool
	}{
		{Selection{}, false},
		{Selection{Dataset: Wildcard, User: "a@b"}, false},
		{Selection{Dataset: "EGAD01"}, true},
	}
	for _, tt := range tests {
		if got := tt.sel.ByDataset(); got != tt.want {
			t.Errorf("%+v.ByDataset() = %v, want %v", tt.sel, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	d := Keys{Password: "pw", CipherBits: 128}.Describe("a.bam.cip", "/arch/a.bam.cip")
	if !d.Encrypted() || d.CipherBits != 128 || d.Name() != "a.bam" {
		t.Errorf("Describe() = %+v", d)
	}
	if (Keys{}).Describe("a", "/a").Encrypted() {
		t.Error("no password should mean cleartext")
	}
}
