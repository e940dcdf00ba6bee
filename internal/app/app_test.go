package app

import "testing"

func TestCloseWithoutResources(t *testing.T) {
	a := &App{}
	if err := a.Close(); err != nil {
		t.Errorf("Close on empty app: %v", err)
	}
}
