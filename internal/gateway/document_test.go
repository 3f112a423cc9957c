package gateway

import (
	"encoding/json"
	"testing"

	"otbr-gateway/internal/otstack"
)

func TestDocumentKeepsInsertionOrder(t *testing.T) {
	d := NewDocument()
	d.AddString("zeta", "z")
	d.AddInt("alpha", 1)
	d.OpenArray("list")
	d.OpenTable("ignored")
	d.AddString("Role", "R")
	d.Close()
	d.Close()
	d.Finish(otstack.ErrorNone)

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"zeta":"z","alpha":1,"list":[{"Role":"R"}],"Error":0}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

func TestDocumentFinishOnce(t *testing.T) {
	d := NewDocument()
	d.OpenTable("leaderdata")
	d.AddInt("PartitionId", 7)
	d.Finish(otstack.ErrorInvalidState)
	d.Finish(otstack.ErrorNone)
	d.AddString("late", "x")

	if d.Depth() != 0 {
		t.Errorf("depth = %d after finish", d.Depth())
	}
	b, _ := json.Marshal(d)
	want := `{"leaderdata":{"PartitionId":7},"Error":13}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

func TestDocumentCloseRootIsNoop(t *testing.T) {
	d := NewDocument()
	d.Close()
	d.Close()
	d.AddInt("a", 1)
	if f := d.Field("a"); f == nil || f.Int != 1 {
		t.Errorf("field a = %+v", f)
	}
}

func TestDocumentClone(t *testing.T) {
	d := NewDocument()
	d.OpenTable("networkdata0")
	d.AddString("rloc", "0x0400")

	c := d.Clone()
	c.AddString("extra", "y")
	c.Close()
	c.AddInt("after", 2)

	if n := d.Field("networkdata0"); len(n.Children) != 1 {
		t.Errorf("original mutated: %d children", len(n.Children))
	}
	if c.Field("networkdata0").Field("extra") == nil {
		t.Error("clone lost open container")
	}
	if c.Field("after") == nil {
		t.Error("clone close did not return to root")
	}
	if d.Field("after") != nil {
		t.Error("original gained clone field")
	}
}

func TestDocumentUnmarshal(t *testing.T) {
	in := `{"b":"x","a":{"k":true,"n":null,"list":[1,2]},"Error":0}`
	d := NewDocument()
	if err := json.Unmarshal([]byte(in), d); err != nil {
		t.Fatal(err)
	}
	if !d.Finished() {
		t.Error("document with Error field should be finished")
	}
	b, _ := json.Marshal(d)
	want := `{"b":"x","a":{"k":1,"list":[1,2]},"Error":0}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}

	if err := json.Unmarshal([]byte(`[1]`), NewDocument()); err == nil {
		t.Error("expected error for top-level array")
	}
}
