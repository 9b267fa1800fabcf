// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Gateway status command handler.
//
// Handles the "riggate status" command: probes a running gateway over its
// REST surface and reports liveness, the configured model, active session
// count, and accumulated usage totals. Works against local and remote
// gateways alike; nothing here touches gateway-internal state.
package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/riggate/internal/server"
)

// probeHealth checks gateway liveness the way front-ends do before
// connecting: GET /health with a short timeout. The endpoint is exempt from
// auth, so no token is needed.
func probeHealth(gatewayURL string) (*server.HealthResponse, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(strings.TrimRight(gatewayURL, "/") + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}

	var health server.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("malformed health response: %w", err)
	}
	return &health, nil
}

// fetchUsage retrieves ledger totals from GET /api/usage.
func fetchUsage(gatewayURL, authToken string) (*server.UsageResponse, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(gatewayURL, "/")+"/api/usage", nil)
	if err != nil {
		return nil, err
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}

	var usage server.UsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// HandleStatus handles the "status" command. An unreachable gateway is a
// reportable state, not a command failure, so this returns nil either way
// unless output itself fails.
func HandleStatus(args Args) error {
	cfg := loadClientConfig(args)

	gatewayURL := args.URL
	if gatewayURL == "" {
		gatewayURL = "http://" + cfg.Server.Addr()
	}
	gatewayURL = strings.TrimRight(gatewayURL, "/")

	health, healthErr := probeHealth(gatewayURL)

	// Usage totals are best effort; a gateway without a ledger or with
	// auth we cannot satisfy still gets a status report.
	var usageInfo *server.UsageResponse
	if healthErr == nil {
		usageInfo, _ = fetchUsage(gatewayURL, cfg.Server.AuthToken)
	}

	if args.JSON {
		return printStatusJSON(gatewayURL, health, healthErr, usageInfo)
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("riggate Gateway Status"))
	fmt.Println(RenderSeparator())
	fmt.Println()

	fmt.Println(SectionStyle.Render("Gateway"))
	fmt.Printf("  %s%s\n", LabelStyle.Render("URL:"), ValueStyle.Render(gatewayURL))

	if healthErr != nil {
		fmt.Printf("  %s%s\n", LabelStyle.Render("Status:"), ErrorStyle.Render("Not running"))
		if args.Verbose {
			fmt.Printf("  %s%s\n", LabelStyle.Render("Error:"), DimStyle.Render(healthErr.Error()))
		}
		fmt.Println()
		fmt.Println(DimStyle.Render("Start it with: riggate serve"))
		fmt.Println()
		return nil
	}

	fmt.Printf("  %s%s\n", LabelStyle.Render("Status:"), SuccessStyle.Render(health.Status))
	fmt.Printf("  %s%s\n", LabelStyle.Render("Version:"), ValueStyle.Render(health.Version))
	fmt.Printf("  %s%d active\n", LabelStyle.Render("Sessions:"), health.ActiveSessions)
	fmt.Printf("  %s%s (%s)\n", LabelStyle.Render("Model:"),
		HighlightStyle.Render(health.Model), health.Protocol)

	if usageInfo != nil && usageInfo.Enabled {
		t := usageInfo.Totals
		fmt.Println()
		fmt.Println(SectionStyle.Render("Usage"))
		fmt.Printf("  %s%d (%d completed, %d cancelled, %d failed)\n",
			LabelStyle.Render("Generations:"), t.Generations, t.Completed, t.Cancelled, t.Failed)
		fmt.Printf("  %s%d fragments, %d chars\n",
			LabelStyle.Render("Streamed:"), t.Fragments, t.Chars)
		fmt.Printf("  %s%s total", LabelStyle.Render("Model time:"), formatMillis(t.TotalTimeMs))
		if t.Generations > 0 {
			fmt.Printf(" (%s avg)", formatMillis(t.TotalTimeMs/t.Generations))
		}
		fmt.Println()
	}

	fmt.Println()
	return nil
}

// formatMillis renders a millisecond count as a human duration.
func formatMillis(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return d.Round(10 * time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// printStatusJSON emits the machine-readable status report.
func printStatusJSON(gatewayURL string, health *server.HealthResponse, healthErr error, usageInfo *server.UsageResponse) error {
	gateway := GatewayStatusInfo{
		URL:       gatewayURL,
		Reachable: healthErr == nil,
	}
	if healthErr != nil {
		gateway.Status = "unreachable"
	} else {
		gateway.Status = health.Status
		gateway.Version = health.Version
		gateway.ActiveSessions = health.ActiveSessions
		gateway.Model = health.Model
		gateway.Protocol = health.Protocol
	}

	data := StatusData{
		Gateway: gateway,
		Usage:   usageInfo,
	}
	return NewJSONResponse("status", data).Print()
}
