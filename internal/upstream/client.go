package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Operation names used for logging, metrics and error tagging.
const (
	OpTokenExchange = "token_exchange"
	OpVerifyCookie  = "verify_cookie"
	OpMFAChallenge  = "mfa_challenge"
	OpMFAVerify     = "mfa_verify"
	OpMemberInfo    = "member_info"
	OpReserveESim   = "reserve_esim"
	OpSwapSim       = "swap_sim"
	OpDownloadToken = "esim_download_token"
)

const (
	HeaderMFASignature = "X-MFA-Signature"

	cookieProbeQuery = `query { viewer { member { id } } }`

	memberProfileQuery = `query getMemberProfileAndSim {
  memberProfile { id memberName __typename }
  sim { phoneNumber status __typename }
}`

	reserveESimMutation = `mutation reserveESim($input: ESimReservationInput!) {
  reserveESim: reserveESim(input: $input) {
    id memberId reservationStartDate reservationEndDate status
    esim { ssn activationCode deliveryStatus associatedMemberId __typename }
    __typename
  }
}`

	swapSimMutation = `mutation SwapSim($activationCode: String!, $mfaSignature: String!) {
  swapSim(activationCode: $activationCode, mfaSignature: $mfaSignature) {
    old { ssn activationCode __typename }
    new { ssn activationCode __typename }
    __typename
  }
}`

	downloadTokenQuery = `query eSimDownloadToken($ssn: String!) {
  eSimDownloadToken(ssn: $ssn) { id host matchingId lpaString __typename }
}`
)

// Endpoints are the carrier URLs the client talks to.
type Endpoints struct {
	TokenURL         string
	GraphQLURL       string
	MFAChallengeURL  string
	MFAValidationURL string
}

// Credentials identify this deployment to the authorization server.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Observer receives one callback per completed or failed call.
type Observer func(op string, status int, d time.Duration)

// Client implements the carrier operations on top of a Caller.
type Client struct {
	caller    Caller
	endpoints Endpoints
	creds     Credentials
	mfaSource string
	observe   Observer
}

func NewClient(caller Caller, endpoints Endpoints, creds Credentials, mfaSource string, observe Observer) *Client {
	if mfaSource == "" {
		mfaSource = "esim"
	}
	return &Client{
		caller:    caller,
		endpoints: endpoints,
		creds:     creds,
		mfaSource: mfaSource,
		observe:   observe,
	}
}

// TokenResult is a successful token response. Raw keeps every member the
// authorization server returned.
type TokenResult struct {
	Token *oauth2.Token
	Raw   map[string]any
}

// Member is the profile returned by the member lookup.
type Member struct {
	MemberID    string `json:"memberId"`
	MemberName  string `json:"memberName"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	SIMStatus   string `json:"simStatus,omitempty"`
}

// Reservation is the output of the reserve step.
type Reservation struct {
	ReservationID  string
	SSN            string
	ActivationCode string
	Status         string
}

// SwapResult is the output of the swap step.
type SwapResult struct {
	OldSSN string
	NewSSN string
}

// DownloadToken is the LPA download descriptor.
type DownloadToken struct {
	ID         string
	Host       string
	MatchingID string
	LPAString  string
}

func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.caller.Call(ctx, req)
	if c.observe != nil {
		status := 0
		if resp != nil {
			status = resp.Status
		}
		c.observe(req.Operation, status, time.Since(start))
	}
	return resp, err
}

// ExchangeCode trades an authorization code and PKCE verifier for an access
// token using HTTP Basic client authentication.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*TokenResult, error) {
	if redirectURI == "" {
		redirectURI = c.creds.RedirectURL
	}
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.creds.ClientID + ":" + c.creds.ClientSecret))
	resp, err := c.call(ctx, Request{
		Operation: OpTokenExchange,
		Method:    http.MethodPost,
		URL:       c.endpoints.TokenURL,
		Profile:   ProfileBrowser,
		Header: http.Header{
			"Content-Type":  {"application/x-www-form-urlencoded"},
			"Authorization": {"Basic " + basic},
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return nil, local(OpTokenExchange, "token exchange failed", err)
	}
	if !resp.OK() {
		return nil, rejection(OpTokenExchange, "Token exchange failed", resp)
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, local(OpTokenExchange, "token exchange failed", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(resp.Body, &tok); err != nil {
		return nil, local(OpTokenExchange, "token exchange failed", err)
	}
	if tok.AccessToken == "" {
		return nil, local(OpTokenExchange, "token response has no access_token", nil)
	}
	if tok.ExpiresIn > 0 && tok.Expiry.IsZero() {
		tok.Expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}

	return &TokenResult{Token: &tok, Raw: raw}, nil
}

// ProbeCookie runs a minimal authenticated query with the raw session
// cookie. A nil error means the cookie is accepted.
func (c *Client) ProbeCookie(ctx context.Context, cookie string) error {
	var out struct {
		Viewer struct {
			Member struct {
				ID string `json:"id"`
			} `json:"member"`
		} `json:"viewer"`
	}
	return c.graphql(ctx, OpVerifyCookie, http.Header{"Cookie": {cookie}}, "Cookie validation failed", cookieProbeQuery, nil, &out)
}

// SendChallenge asks the identity service to deliver a one-time code and
// returns the challenge reference.
func (c *Client) SendChallenge(ctx context.Context, accessToken, channel string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"source":            c.mfaSource,
		"preferredChannels": []string{channel},
	})
	if err != nil {
		return "", local(OpMFAChallenge, "Failed to send MFA code", err)
	}

	var out struct {
		Ref string `json:"ref"`
	}
	if err := c.postJSON(ctx, OpMFAChallenge, c.endpoints.MFAChallengeURL, bearer(accessToken), body, "Failed to send MFA code", &out); err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", local(OpMFAChallenge, "challenge response has no ref", nil)
	}
	return out.Ref, nil
}

// ValidateCode submits a one-time code for ref and returns the MFA
// signature.
func (c *Client) ValidateCode(ctx context.Context, accessToken, ref, code string) (string, error) {
	body, err := json.Marshal(map[string]string{"ref": ref, "code": code})
	if err != nil {
		return "", local(OpMFAVerify, "MFA verification failed", err)
	}

	var out struct {
		Signature string `json:"signature"`
	}
	if err := c.postJSON(ctx, OpMFAVerify, c.endpoints.MFAValidationURL, bearer(accessToken), body, "MFA verification failed", &out); err != nil {
		return "", err
	}
	if out.Signature == "" {
		return "", local(OpMFAVerify, "validation response has no signature", nil)
	}
	return out.Signature, nil
}

// MemberProfile resolves the member behind accessToken. The signature is
// optional.
func (c *Client) MemberProfile(ctx context.Context, accessToken, signature string) (*Member, error) {
	var out struct {
		MemberProfile *struct {
			ID         string `json:"id"`
			MemberName string `json:"memberName"`
		} `json:"memberProfile"`
		SIM *struct {
			PhoneNumber string `json:"phoneNumber"`
			Status      string `json:"status"`
		} `json:"sim"`
	}
	if err := c.graphql(ctx, OpMemberInfo, authHeaders(accessToken, signature), "Failed to fetch member info", memberProfileQuery, nil, &out); err != nil {
		return nil, err
	}
	if out.MemberProfile == nil || out.MemberProfile.ID == "" {
		return nil, local(OpMemberInfo, "member profile missing from response", nil)
	}

	m := &Member{
		MemberID:   out.MemberProfile.ID,
		MemberName: out.MemberProfile.MemberName,
	}
	if out.SIM != nil {
		m.PhoneNumber = out.SIM.PhoneNumber
		m.SIMStatus = out.SIM.Status
	}
	return m, nil
}

// ReserveESim reserves a new eSIM profile for memberID.
func (c *Client) ReserveESim(ctx context.Context, accessToken, signature, memberID string) (*Reservation, error) {
	vars := map[string]any{
		"input": map[string]string{
			"memberId":   memberID,
			"userIntent": "SWITCH",
		},
	}
	var out struct {
		ReserveESim *struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			ESim   *struct {
				SSN            string `json:"ssn"`
				ActivationCode string `json:"activationCode"`
			} `json:"esim"`
		} `json:"reserveESim"`
	}
	if err := c.graphql(ctx, OpReserveESim, authHeaders(accessToken, signature), "Failed to reserve eSIM", reserveESimMutation, vars, &out); err != nil {
		return nil, err
	}
	if out.ReserveESim == nil || out.ReserveESim.ESim == nil || out.ReserveESim.ESim.SSN == "" || out.ReserveESim.ESim.ActivationCode == "" {
		return nil, local(OpReserveESim, "reservation missing from response", nil)
	}
	return &Reservation{
		ReservationID:  out.ReserveESim.ID,
		SSN:            out.ReserveESim.ESim.SSN,
		ActivationCode: out.ReserveESim.ESim.ActivationCode,
		Status:         out.ReserveESim.Status,
	}, nil
}

// SwapSim activates the reserved profile identified by activationCode.
func (c *Client) SwapSim(ctx context.Context, accessToken, signature, activationCode string) (*SwapResult, error) {
	vars := map[string]any{
		"activationCode": activationCode,
		"mfaSignature":   signature,
	}
	type simRef struct {
		SSN string `json:"ssn"`
	}
	var out struct {
		SwapSim *struct {
			Old *simRef `json:"old"`
			New *simRef `json:"new"`
		} `json:"swapSim"`
	}
	if err := c.graphql(ctx, OpSwapSim, authHeaders(accessToken, signature), "Failed to swap SIM", swapSimMutation, vars, &out); err != nil {
		return nil, err
	}

	res := &SwapResult{}
	if out.SwapSim != nil {
		if out.SwapSim.Old != nil {
			res.OldSSN = out.SwapSim.Old.SSN
		}
		if out.SwapSim.New != nil {
			res.NewSSN = out.SwapSim.New.SSN
		}
	}
	return res, nil
}

// ESimDownloadToken fetches the LPA download descriptor for ssn.
func (c *Client) ESimDownloadToken(ctx context.Context, accessToken, signature, ssn string) (*DownloadToken, error) {
	var out struct {
		Token *struct {
			ID         string `json:"id"`
			Host       string `json:"host"`
			MatchingID string `json:"matchingId"`
			LPAString  string `json:"lpaString"`
		} `json:"eSimDownloadToken"`
	}
	if err := c.graphql(ctx, OpDownloadToken, authHeaders(accessToken, signature), "Failed to get eSIM download token", downloadTokenQuery, map[string]any{"ssn": ssn}, &out); err != nil {
		return nil, err
	}
	if out.Token == nil || out.Token.LPAString == "" {
		return nil, local(OpDownloadToken, "download token missing from response", nil)
	}
	return &DownloadToken{
		ID:         out.Token.ID,
		Host:       out.Token.Host,
		MatchingID: out.Token.MatchingID,
		LPAString:  out.Token.LPAString,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, op, endpoint string, header http.Header, body []byte, rejectMsg string, out any) error {
	header.Set("Content-Type", "application/json")
	resp, err := c.call(ctx, Request{
		Operation: op,
		Method:    http.MethodPost,
		URL:       endpoint,
		Profile:   ProfileMobileApp,
		Header:    header,
		Body:      body,
	})
	if err != nil {
		return local(op, rejectMsg, err)
	}
	if !resp.OK() {
		return rejection(op, rejectMsg, resp)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return local(op, rejectMsg, err)
	}
	return nil
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

func (c *Client) graphql(ctx context.Context, op string, header http.Header, rejectMsg, query string, vars map[string]any, out any) error {
	payload := map[string]any{"query": query}
	if vars != nil {
		payload["variables"] = vars
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return local(op, rejectMsg, err)
	}

	header.Set("Content-Type", "application/json")
	resp, err := c.call(ctx, Request{
		Operation: op,
		Method:    http.MethodPost,
		URL:       c.endpoints.GraphQLURL,
		Profile:   ProfileMobileApp,
		Header:    header,
		Body:      body,
	})
	if err != nil {
		return local(op, rejectMsg, err)
	}
	if !resp.OK() {
		return rejection(op, rejectMsg, resp)
	}

	var env graphqlEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return local(op, rejectMsg, err)
	}
	if len(env.Errors) > 0 {
		return semantic(op, env.Errors)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return local(op, "response has no data", nil)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return local(op, rejectMsg, err)
	}
	return nil
}

func bearer(accessToken string) http.Header {
	return http.Header{"Authorization": {"Bearer " + strings.TrimSpace(accessToken)}}
}

func authHeaders(accessToken, signature string) http.Header {
	h := bearer(accessToken)
	if signature != "" {
		h.Set(HeaderMFASignature, signature)
	}
	return h
}
