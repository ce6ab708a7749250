package mds

import (
	"encoding/json"
	"testing"
)

func TestFlattenRecord(t *testing.T) {
	data := `{
		"id": 123,
		"name": "arrow",
		"fork": false,
		"description": null,
		"owner": {"login": "apache", "id": 47359, "plan": {"name": "free"}},
		"topics": ["columnar", "ipc"],
		"license": {"key": "apache-2.0", "name": "Apache License 2.0"}
	}`
	rec := make(map[string]interface{})
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		t.Fatalf("unmarshaling test record: %v", err)
	}

	flat := FlattenRecord(rec)

	if flat["id"] != float64(123) {
		t.Fatalf("wrong id: %#v", flat["id"])
	}
	if flat["name"] != "arrow" {
		t.Fatalf("wrong name: %#v", flat["name"])
	}
	if flat["fork"] != false {
		t.Fatalf("wrong fork: %#v", flat["fork"])
	}
	if v, ok := flat["description"]; !ok || v != nil {
		t.Fatalf("null scalar should survive as nil, got %#v ok: %v", v, ok)
	}
	if flat["owner__login"] != "apache" {
		t.Fatalf("nested scalar not flattened: %#v", flat["owner__login"])
	}
	if flat["license__key"] != "apache-2.0" {
		t.Fatalf("nested scalar not flattened: %#v", flat["license__key"])
	}
	if _, ok := flat["topics"]; ok {
		t.Fatalf("array should be dropped, got %#v", flat["topics"])
	}
	if _, ok := flat["owner__plan"]; ok {
		t.Fatalf("doubly nested object should be dropped, got %#v", flat["owner__plan"])
	}
	if _, ok := flat["owner"]; ok {
		t.Fatalf("flattened parent key should not remain: %#v", flat["owner"])
	}
}
