package gateway

import (
	"errors"
	"testing"

	"otbr-gateway/internal/otstack"
)

func TestParseParams(t *testing.T) {
	specs := []ParamSpec{
		{Name: "name", Type: ParamString},
		{Name: "channel", Type: ParamInt32},
	}
	tests := []struct {
		raw     string
		wantStr string
		hasStr  bool
		wantInt int32
		hasInt  bool
		err     bool
	}{
		{raw: ``},
		{raw: "  \n"},
		{raw: `{}`},
		{raw: `{"name":"mesh","channel":15}`, wantStr: "mesh", hasStr: true, wantInt: 15, hasInt: true},
		{raw: `{"name":5,"channel":"15"}`},
		{raw: `{"channel":15.5}`},
		{raw: `{"channel":4294967296}`},
		{raw: `{"channel":-2147483648}`, wantInt: -2147483648, hasInt: true},
		{raw: `{"other":1,"name":"x"}`, wantStr: "x", hasStr: true},
		{raw: `[1,2]`, err: true},
		{raw: `{"name":`, err: true},
		{raw: `"str"`, err: true},
	}
	for _, tt := range tests {
		p, err := parseParams(specs, []byte(tt.raw))
		if tt.err {
			if !errors.Is(err, otstack.ErrorParse) {
				t.Errorf("%q: err = %v, want Parse", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.raw, err)
			continue
		}
		s, ok := p.String("name")
		if ok != tt.hasStr || s != tt.wantStr {
			t.Errorf("%q: name = %q,%v want %q,%v", tt.raw, s, ok, tt.wantStr, tt.hasStr)
		}
		n, ok := p.Int32("channel")
		if ok != tt.hasInt || n != tt.wantInt {
			t.Errorf("%q: channel = %d,%v want %d,%v", tt.raw, n, ok, tt.wantInt, tt.hasInt)
		}
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want otstack.Error
	}{
		{nil, otstack.ErrorNone},
		{otstack.ErrorBusy, otstack.ErrorBusy},
		{ErrScanInProgress, otstack.ErrorBusy},
		{errors.New("boom"), otstack.ErrorFailed},
		{parseError("x", errors.New("odd")), otstack.ErrorParse},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
