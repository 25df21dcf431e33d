// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package commit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/sjson"
)

// ForgeGateway composes a *GitGateway for the local git operations
// (commit, branch, push) with HTTP calls to a hosted git forge's REST
// API for PR creation/update. This is the production implementation;
// the HCP is written against the CommitGateway interface and never
// distinguishes the two.
type ForgeGateway struct {
	*GitGateway
	httpClient *http.Client
	apiBase    string
	token      string
	repoSlug   string
}

// NewForgeGateway wraps git with forge-hosted PR support. apiBase is
// the forge's REST root (e.g. "https://api.github.com"), repoSlug is
// "owner/name", token authenticates PR requests.
func NewForgeGateway(git *GitGateway, httpClient *http.Client, apiBase, repoSlug, token string) *ForgeGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ForgeGateway{
		GitGateway: git,
		httpClient: httpClient,
		apiBase:    apiBase,
		repoSlug:   repoSlug,
		token:      token,
	}
}

// ConfidenceFactors mirrors confidence.Factors without importing that
// package, to keep commit free of a dependency on the scorer.
type ConfidenceFactors struct {
	KBMatch           float64
	TestCoverage      float64
	CodeComplexity    float64
	HistoricalSuccess float64
	VerificationBonus float64
}

// BuildPRBody assembles the PR description: proposed fix, confidence
// score with factor breakdown, verification summary, and a standard
// machine-generated disclaimer. Built incrementally with sjson into a
// JSON body; the forge's markdown rendering of structured PR bodies is
// out of this module's scope.
func BuildPRBody(proposedFix string, score int, factors ConfidenceFactors, verificationPassed bool, verificationDetails string) (string, error) {
	body := "{}"
	var err error
	if body, err = sjson.Set(body, "proposedFix", proposedFix); err != nil {
		return "", err
	}
	if body, err = sjson.Set(body, "confidence.score", score); err != nil {
		return "", err
	}
	if body, err = sjson.Set(body, "confidence.factors.kbMatch", factors.KBMatch); err != nil {
		return "", err
	}
	if body, err = sjson.Set(body, "confidence.factors.testCoverage", factors.TestCoverage); err != nil {
		return "", err
	}
	if body, err = sjson.Set(body, "confidence.factors.codeComplexity", factors.CodeComplexity); err != nil {
		return "", err
	}
	if body, err = sjson.Set(body, "confidence.factors.historicalSuccess", factors.HistoricalSuccess); err != nil {
		return "", err
	}
	if body, err = sjson.Set(body, "confidence.factors.verificationBonus", factors.VerificationBonus); err != nil {
		return "", err
	}
	if body, err = sjson.Set(body, "verification.passed", verificationPassed); err != nil {
		return "", err
	}
	if body, err = sjson.Set(body, "verification.details", verificationDetails); err != nil {
		return "", err
	}
	if body, err = sjson.Set(body, "disclaimer", "This pull request was opened automatically by the healing control plane. Review before merging."); err != nil {
		return "", err
	}
	return body, nil
}

type createPRRequest struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
}

type createPRResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// OpenOrUpdatePR creates a pull request from branch into main. It
// always creates one: it does not look up or update an existing pull
// request for branch, and any non-2xx response (such as the forge
// refusing a duplicate) is returned as an error.
func (f *ForgeGateway) OpenOrUpdatePR(ctx context.Context, branch, title, body string) (*PRResult, error) {
	reqBody, err := json.Marshal(createPRRequest{Title: title, Head: branch, Base: "main", Body: body})
	if err != nil {
		return nil, fmt.Errorf("commit: marshal PR request: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/pulls", f.apiBase, f.repoSlug)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("commit: build PR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("commit: PR request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("commit: PR request returned status %d", resp.StatusCode)
	}

	var out createPRResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("commit: decode PR response: %w", err)
	}
	return &PRResult{Number: out.Number, URL: out.HTMLURL}, nil
}
