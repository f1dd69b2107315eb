package pathconfig

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/vassal/internal/tooling"
)

func TestRegisterToolsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)
	r := tooling.NewRegistry()
	if err := RegisterTools(r, m); err != nil {
		t.Fatalf("register: %v", err)
	}

	setArgsJSON, _ := json.Marshal(setArgs{Label: "home", Path: "/home/user", Description: "home dir"})
	desc, ok := r.Find("path_config_set")
	if !ok {
		t.Fatalf("path_config_set not registered")
	}
	result, errMsg := desc.Executor(context.Background(), setArgsJSON)
	if errMsg != "" {
		t.Fatalf("set executor: %s", errMsg)
	}
	var setOut pathEntryJSON
	if err := json.Unmarshal(result, &setOut); err != nil {
		t.Fatalf("decode set result: %v", err)
	}
	if setOut.Path != "/home/user" {
		t.Fatalf("unexpected set result: %+v", setOut)
	}

	getDesc, ok := r.Find("path_config_get")
	if !ok {
		t.Fatalf("path_config_get not registered")
	}
	getArgsJSON, _ := json.Marshal(getArgs{Label: "home"})
	getResult, errMsg := getDesc.Executor(context.Background(), getArgsJSON)
	if errMsg != "" {
		t.Fatalf("get executor: %s", errMsg)
	}
	var getOut pathEntryJSON
	if err := json.Unmarshal(getResult, &getOut); err != nil {
		t.Fatalf("decode get result: %v", err)
	}
	if getOut.Label != "home" || getOut.Path != "/home/user" {
		t.Fatalf("unexpected get result: %+v", getOut)
	}
}

func TestGetExecutorUnknownLabel(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)
	r := tooling.NewRegistry()
	if err := RegisterTools(r, m); err != nil {
		t.Fatalf("register: %v", err)
	}
	desc, _ := r.Find("path_config_get")
	argsJSON, _ := json.Marshal(getArgs{Label: "missing"})
	_, errMsg := desc.Executor(context.Background(), argsJSON)
	if errMsg == "" {
		t.Fatalf("expected error for unknown label")
	}
}
