package models

import (
	"encoding/json"
	"testing"
)

func TestMergeMetadata(t *testing.T) {
	inv := &Invoice{MetadataJSON: `{"order_id":"10","source":"checkout"}`}

	err := inv.MergeMetadata(map[string]string{
		"source":            "webhook",
		"payment_intent_id": "pi_1",
	})
	if err != nil {
		t.Fatalf("MergeMetadata: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal([]byte(inv.MetadataJSON), &got); err != nil {
		t.Fatalf("unmarshal merged metadata: %v", err)
	}
	if got["order_id"] != "10" {
		t.Errorf("existing key dropped: %v", got)
	}
	if got["source"] != "webhook" {
		t.Errorf("key not overridden: %v", got)
	}
	if got["payment_intent_id"] != "pi_1" {
		t.Errorf("new key missing: %v", got)
	}
}

func TestMergeMetadataEmptyBag(t *testing.T) {
	inv := &Invoice{}
	if err := inv.MergeMetadata(map[string]string{"a": "1"}); err != nil {
		t.Fatalf("MergeMetadata: %v", err)
	}
	if inv.MetadataJSON != `{"a":"1"}` {
		t.Errorf("metadata = %s", inv.MetadataJSON)
	}
}

func TestMergeMetadataRejectsCorruptBag(t *testing.T) {
	inv := &Invoice{MetadataJSON: `{not json`}
	if err := inv.MergeMetadata(map[string]string{"a": "1"}); err == nil {
		t.Fatal("expected error for corrupt metadata")
	}
}
