package browser

import (
	"errors"
	"net/http"
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func documentResponse(kind proto.NetworkResourceType, code int) *proto.NetworkResponseReceived {
	return &proto.NetworkResponseReceived{
		Type:     kind,
		Response: &proto.NetworkResponse{URL: "https://example.test/page", Status: code},
	}
}

func TestDocumentStatusReportsHTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		events []*proto.NetworkResponseReceived
		want   int
	}{
		{name: "no response", want: 0},
		{name: "ok", events: []*proto.NetworkResponseReceived{documentResponse(proto.NetworkResourceTypeDocument, http.StatusOK)}, want: 0},
		{name: "forbidden", events: []*proto.NetworkResponseReceived{documentResponse(proto.NetworkResourceTypeDocument, http.StatusForbidden)}, want: http.StatusForbidden},
		{
			name: "subresources ignored",
			events: []*proto.NetworkResponseReceived{
				documentResponse(proto.NetworkResourceTypeScript, http.StatusNotFound),
				documentResponse(proto.NetworkResourceTypeDocument, http.StatusTooManyRequests),
			},
			want: http.StatusTooManyRequests,
		},
		{
			name: "first document wins",
			events: []*proto.NetworkResponseReceived{
				documentResponse(proto.NetworkResourceTypeDocument, http.StatusOK),
				documentResponse(proto.NetworkResourceTypeDocument, http.StatusServiceUnavailable),
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := newDocumentStatus()
			for _, e := range tt.events {
				if status.observe(e) {
					break
				}
			}

			err := status.err("https://example.test/page")
			if tt.want == 0 {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.Code != tt.want {
				t.Fatalf("err = %v, want status %d", err, tt.want)
			}
		})
	}
}
