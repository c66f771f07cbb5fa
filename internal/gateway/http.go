package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rmarin/campo/internal/store"
)

// HTTPGateway talks to the hosted sync endpoint over HTTPS.
type HTTPGateway struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTP creates a gateway client for the given base URL.
func NewHTTP(baseURL, token string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		base:   baseURL,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// actionPayload is the wire shape of an action upsert.
type actionPayload struct {
	ID              string   `json:"id"`
	OrganizationID  string   `json:"organizationId"`
	VendedorID      string   `json:"vendedorId"`
	ClienteID       string   `json:"clienteId,omitempty"`
	Tipo            string   `json:"tipo"`
	Canal           string   `json:"canal"`
	Titulo          string   `json:"titulo"`
	Descripcion     string   `json:"descripcion,omitempty"`
	Resultado       string   `json:"resultado,omitempty"`
	Estado          string   `json:"estado"`
	EvidenciasIDs   []string `json:"evidenciasIds"`
	FechaProgramada int64    `json:"fechaProgramada,omitempty"`
	FechaRealizada  int64    `json:"fechaRealizada,omitempty"`
	BaseVersion     int64    `json:"baseVersion"`
	UpdatedAt       int64    `json:"updatedAt"`
}

type upsertResponse struct {
	ID         string         `json:"id"`
	AcceptedAt int64          `json:"acceptedAt"`
	Conflict   bool           `json:"conflict"`
	Server     *actionPayload `json:"server,omitempty"`
}

type errorResponse struct {
	Retryable bool   `json:"retryable"`
	Reason    string `json:"reason"`
}

// UpsertAction submits an action keyed by its local id. Resubmitting the
// same id is a server-side no-op returning the existing record.
func (g *HTTPGateway) UpsertAction(ctx context.Context, a *store.FieldAction) (*UpsertResult, error) {
	payload := actionPayload{
		ID:              a.ID,
		OrganizationID:  a.OrgID,
		VendedorID:      a.AgentID,
		ClienteID:       a.CustomerID,
		Tipo:            a.Type,
		Canal:           a.Channel,
		Titulo:          a.Title,
		Descripcion:     a.Description,
		Resultado:       a.Result,
		Estado:          a.Lifecycle,
		EvidenciasIDs:   a.MediaIDs,
		FechaProgramada: a.ScheduledAt,
		FechaRealizada:  a.PerformedAt,
		BaseVersion:     a.Version,
		UpdatedAt:       a.UpdatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Reason: "encode action: " + err.Error()}
	}

	url := fmt.Sprintf("%s/v1/orgs/%s/actions", g.base, a.OrgID)
	data, gerr := g.post(ctx, url, "application/json", bytes.NewReader(body))
	if gerr != nil {
		return nil, gerr
	}

	var resp upsertResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Error{Reason: "decode upsert response: " + err.Error()}
	}
	res := &UpsertResult{
		ServerID:   resp.ID,
		AcceptedAt: resp.AcceptedAt,
		Conflict:   resp.Conflict,
	}
	if resp.Server != nil {
		res.Server = serverActionToLocal(resp.Server)
	}
	return res, nil
}

// UploadMedia posts the compressed blob as multipart form data. The response
// carries a durable, fetchable URL and the stored filename.
func (g *HTTPGateway) UploadMedia(ctx context.Context, m *store.MediaAsset) (*UploadResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"organizationId": m.OrgID,
		"parentEntityId": m.ActionID,
		"kind":           m.Kind,
		"description":    "",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, &Error{Reason: "encode media form: " + err.Error()}
		}
	}
	part, err := w.CreateFormFile("file", m.ID)
	if err != nil {
		return nil, &Error{Reason: "encode media form: " + err.Error()}
	}
	if _, err := part.Write(m.Blob); err != nil {
		return nil, &Error{Reason: "encode media form: " + err.Error()}
	}
	if err := w.Close(); err != nil {
		return nil, &Error{Reason: "encode media form: " + err.Error()}
	}

	url := fmt.Sprintf("%s/v1/orgs/%s/media", g.base, m.OrgID)
	data, gerr := g.post(ctx, url, w.FormDataContentType(), &buf)
	if gerr != nil {
		return nil, gerr
	}

	var resp struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Error{Reason: "decode upload response: " + err.Error()}
	}
	return &UploadResult{URL: resp.URL, Filename: resp.Filename}, nil
}

// PingLocation submits one position sample. The server appends it to the
// agent's history and overwrites the agent's last-known-location record.
func (g *HTTPGateway) PingLocation(ctx context.Context, p *store.LocationPing) (*PingResult, error) {
	payload := map[string]any{
		"id":             p.ID,
		"organizationId": p.OrgID,
		"vendedorId":     p.AgentID,
		"lat":            p.Lat,
		"lng":            p.Lng,
		"accuracy":       p.Accuracy,
		"timestamp":      p.PingedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Reason: "encode ping: " + err.Error()}
	}

	url := fmt.Sprintf("%s/v1/orgs/%s/locations", g.base, p.OrgID)
	data, gerr := g.post(ctx, url, "application/json", bytes.NewReader(body))
	if gerr != nil {
		return nil, gerr
	}

	var resp struct {
		AcceptedAt int64 `json:"acceptedAt"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Error{Reason: "decode ping response: " + err.Error()}
	}
	return &PingResult{AcceptedAt: resp.AcceptedAt}, nil
}

// post performs one request and maps the outcome onto the error taxonomy.
func (g *HTTPGateway) post(ctx context.Context, url, contentType string, body io.Reader) ([]byte, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, &Error{Reason: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", contentType)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	httpResp, err := g.client.Do(req)
	if err != nil {
		// No response was produced: outcome unknown.
		return nil, &Error{Transport: true, Retryable: true, Reason: err.Error()}
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Transport: true, Retryable: true, Reason: "read response: " + err.Error()}
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return data, nil
	case httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Retryable: true, Reason: reasonFrom(data, httpResp.Status), Status: httpResp.StatusCode}
	default:
		return nil, &Error{Retryable: false, Reason: reasonFrom(data, httpResp.Status), Status: httpResp.StatusCode}
	}
}

func reasonFrom(data []byte, fallback string) string {
	var e errorResponse
	if err := json.Unmarshal(data, &e); err == nil && e.Reason != "" {
		return e.Reason
	}
	return fallback
}

func serverActionToLocal(p *actionPayload) *store.FieldAction {
	return &store.FieldAction{
		ID:          p.ID,
		OrgID:       p.OrganizationID,
		AgentID:     p.VendedorID,
		CustomerID:  p.ClienteID,
		Type:        p.Tipo,
		Channel:     p.Canal,
		Title:       p.Titulo,
		Description: p.Descripcion,
		Result:      p.Resultado,
		Lifecycle:   p.Estado,
		MediaIDs:    p.EvidenciasIDs,
		ScheduledAt: p.FechaProgramada,
		PerformedAt: p.FechaRealizada,
		Version:     p.BaseVersion,
		UpdatedAt:   p.UpdatedAt,
	}
}
