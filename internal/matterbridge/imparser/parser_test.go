package imparser_test

import (
	"testing"

	"github.com/bdobrica/matterbridge/internal/matterbridge/imparser"
)

func TestParse_SimpleMapping(t *testing.T) {
	rec, err := imparser.Parse(`Endpoint = { Cluster = 6 }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.Key != "Endpoint" {
		t.Errorf("Key: got %q", rec.Key)
	}
	m, ok := rec.Value.(map[string]any)
	if !ok {
		t.Fatalf("Value: expected map, got %T", rec.Value)
	}
	if m["Cluster"] != int64(6) {
		t.Errorf("Cluster: got %v", m["Cluster"])
	}
}

func TestParse_HexNumber(t *testing.T) {
	rec, err := imparser.Parse(`NodeID = { Value = 0x1A }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := rec.Value.(map[string]any)
	if m["Value"] != int64(26) {
		t.Errorf("Value: got %v, want 26", m["Value"])
	}
}

func TestParse_QuotedString(t *testing.T) {
	rec, err := imparser.Parse(`Device = { Name = "Living Room" }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := rec.Value.(map[string]any)
	if m["Name"] != "Living Room" {
		t.Errorf("Name: got %v", m["Name"])
	}
}

func TestParse_ScalarArray(t *testing.T) {
	rec, err := imparser.Parse(`Endpoint = { List = [ 1 2 3 ] }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := rec.Value.(map[string]any)
	list, ok := m["List"].([]any)
	if !ok {
		t.Fatalf("List: expected []any, got %T", m["List"])
	}
	if len(list) != 3 || list[0] != int64(1) || list[2] != int64(3) {
		t.Errorf("List: got %v", list)
	}
}

func TestParse_SingleMappingCollapse(t *testing.T) {
	rec, err := imparser.Parse(`Endpoint = { Inner = { A = 1 } }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := rec.Value.(map[string]any)
	inner, ok := m["Inner"].(map[string]any)
	if !ok {
		t.Fatalf("Inner: expected map, got %T", m["Inner"])
	}
	if inner["A"] != int64(1) {
		t.Errorf("A: got %v", inner["A"])
	}
}

func TestParse_NestedBrackets(t *testing.T) {
	rec, err := imparser.Parse(`Endpoint = { Cluster = 6 Attribute = { Type = "bool" Value = 1 } }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := rec.Value.(map[string]any)
	attr, ok := m["Attribute"].(map[string]any)
	if !ok {
		t.Fatalf("Attribute: expected map, got %T", m["Attribute"])
	}
	if attr["Type"] != "bool" || attr["Value"] != int64(1) {
		t.Errorf("Attribute: got %v", attr)
	}
}
