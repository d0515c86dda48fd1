package tipjar

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"tipjar/core/identity"
)

func TestProfileLayout(t *testing.T) {
	owner := addr(7)
	profile := &Profile{
		Owner:             owner,
		Name:              "Name",
		Bio:               "Bio",
		TotalTipsReceived: 10,
		TipCount:          2,
		WithdrawalCount:   1,
		EscrowBalance:     4,
		CreatedAt:         testNow,
	}
	data := EncodeProfile(profile)
	disc := Discriminator(KindProfile)
	if !bytes.Equal(data[:8], disc[:]) {
		t.Fatalf("missing discriminator")
	}
	if !bytes.Equal(data[CreatorOffset:CreatorOffset+20], owner[:]) {
		t.Fatalf("owner not at creator offset")
	}
	// u32 little-endian length prefix of the name.
	if !bytes.Equal(data[28:32], []byte{4, 0, 0, 0}) || string(data[32:36]) != "Name" {
		t.Fatalf("unexpected name encoding: %x", data[28:36])
	}
	decoded, err := DecodeProfile(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *profile {
		t.Fatalf("decoded profile mismatch: %+v", decoded)
	}
}

func TestMaxSizesMatchFullRecords(t *testing.T) {
	full := &Profile{
		Name: strings.Repeat("n", MaxNameLen),
		Bio:  strings.Repeat("b", MaxBioLen),
	}
	if got := len(EncodeProfile(full)); got != ProfileMaxSize {
		t.Fatalf("profile max size %d, encoded %d", ProfileMaxSize, got)
	}
	tip := &TipRecord{Message: strings.Repeat("m", MaxMessageLen)}
	if got := len(EncodeTip(tip)); got != TipMaxSize {
		t.Fatalf("tip max size %d, encoded %d", TipMaxSize, got)
	}
	if got := len(EncodeWithdrawal(&WithdrawalRecord{})); got != WithdrawalMaxSize {
		t.Fatalf("withdrawal max size %d, encoded %d", WithdrawalMaxSize, got)
	}
}

func TestAllocationFees(t *testing.T) {
	fees := DefaultFeeSchedule()
	want := map[Kind]uint64{
		KindProfile:    3_090_240,
		KindTip:        2_422_080,
		KindWithdrawal: 1_280_640,
	}
	for kind, fee := range want {
		got, err := fees.AllocationFee(kind)
		if err != nil {
			t.Fatalf("fee for %s: %v", kind, err)
		}
		if got != fee {
			t.Fatalf("fee for %s: got %d want %d", kind, got, fee)
		}
	}
	if _, err := fees.AllocationFee("Unknown"); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestTipAndWithdrawalCreatorOffset(t *testing.T) {
	creator := identity.ProfileIdentity(addr(1))
	tipData := EncodeTip(&TipRecord{Creator: creator, Tipper: addr(2), Amount: 5, Message: "hi", Timestamp: testNow})
	wData := EncodeWithdrawal(&WithdrawalRecord{Creator: creator, Amount: 5, Timestamp: testNow})
	for name, data := range map[string][]byte{"tip": tipData, "withdrawal": wData} {
		if !bytes.Equal(data[CreatorOffset:CreatorOffset+identity.Size], creator[:]) {
			t.Fatalf("%s creator not at offset %d", name, CreatorOffset)
		}
	}
	tip, err := DecodeTip(tipData)
	if err != nil {
		t.Fatalf("decode tip: %v", err)
	}
	if tip.Message != "hi" || tip.Tipper != addr(2) {
		t.Fatalf("unexpected tip: %+v", tip)
	}
	if kind, ok := KindOf(wData); !ok || kind != KindWithdrawal {
		t.Fatalf("KindOf failed for withdrawal")
	}
}

func TestDecodeRejectsMalformedRecords(t *testing.T) {
	data := EncodeTip(&TipRecord{Amount: 1, Message: "x"})
	if _, err := DecodeProfile(data); err == nil {
		t.Fatalf("expected wrong discriminator to fail")
	}
	if _, err := DecodeTip(data[:len(data)-1]); err == nil {
		t.Fatalf("expected truncated record to fail")
	}
	if _, err := DecodeTip(append(append([]byte{}, data...), 0)); err == nil {
		t.Fatalf("expected trailing bytes to fail")
	}
	if _, err := DecodeWithdrawal([]byte{1, 2}); err == nil {
		t.Fatalf("expected short record to fail")
	}
}

func TestProfileJSONOmitsUnsetWithdrawal(t *testing.T) {
	profile := Profile{Owner: addr(1), Name: "n", CreatedAt: testNow}
	raw, err := json.Marshal(profile)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "lastWithdrawalAt") {
		t.Fatalf("lastWithdrawalAt should be omitted before the first withdrawal: %s", raw)
	}

	profile.LastWithdrawalAt = testNow + 5
	raw, err = json.Marshal(profile)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Profile
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != profile {
		t.Fatalf("JSON round trip mismatch: %+v", decoded)
	}
}
