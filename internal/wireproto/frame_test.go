package wireproto

import "testing"

func TestEnvelopeRoundTrip(t *testing.T) {
	req := RetrieveRequest{Key: 42}
	env, err := NewEnvelope(KindRetrieve, "5Owner", 1, req)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	data, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal envelope: %v", err)
	}

	var decoded Envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal envelope: %v", err)
	}

	if decoded.Kind != KindRetrieve || decoded.From != "5Owner" || decoded.Seq != 1 {
		t.Fatalf("envelope fields mismatch: %+v", decoded)
	}

	var body RetrieveRequest
	if err := decoded.DecodeBody(&body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if body.Key != 42 {
		t.Fatalf("body.Key = %d, want 42", body.Key)
	}
}

func TestRetrieveResponseNullData(t *testing.T) {
	resp := RetrieveResponse{Data: nil}
	data, err := Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded RetrieveResponse
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Data != nil {
		t.Fatalf("expected nil Data, got %v", *decoded.Data)
	}
}

func TestStoreResponseFailure(t *testing.T) {
	resp := StoreResponse{Key: 7, OK: false}
	data, err := Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded StoreResponse
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.OK {
		t.Fatalf("expected OK=false")
	}
}

func TestKindString(t *testing.T) {
	if KindPing.String() != "ping" {
		t.Fatalf("unexpected ping string")
	}
	if Kind(99).String() == "" {
		t.Fatalf("expected non-empty fallback string")
	}
}
