package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"arcatch.ai/internal/protocol"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8081", "server base url")
	_ = fs.Parse(args)
	get(strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/status")
}

func ledgerCmd(args []string) {
	fs := flag.NewFlagSet("ledger", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8081", "server base url")
	_ = fs.Parse(args)
	get(strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/ledger")
}

// inputCmd sends one command, e.g. `admin input -type SPAWN -creature dragon`.
func inputCmd(args []string) {
	fs := flag.NewFlagSet("input", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8081", "server base url")
	typ := fs.String("type", "", "command type (SPAWN, UNLOAD, UNLOAD_ALL, CAPTURE_ATTEMPT, ...)")
	creatureID := fs.String("creature", "", "creature id for SPAWN")
	instanceID := fs.String("instance", "", "instance id for UNLOAD")
	_ = fs.Parse(args)

	if strings.TrimSpace(*typ) == "" {
		fmt.Fprintln(os.Stderr, "missing -type")
		os.Exit(2)
	}
	msg := protocol.InputMsg{
		Type:            strings.ToUpper(strings.TrimSpace(*typ)),
		ProtocolVersion: protocol.Version,
		ReqID:           fmt.Sprintf("admin-%d", time.Now().UnixNano()),
		CreatureID:      strings.TrimSpace(*creatureID),
		InstanceID:      strings.TrimSpace(*instanceID),
	}
	body, _ := json.Marshal(msg)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/input"
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func get(u string) {
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
