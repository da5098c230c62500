package monitor

import (
	"errors"
	"testing"
)

func TestTarget_Normalise(t *testing.T) {
	tgt := Target{URI: " /light/1 ", Host: "\tknx-gw", URL: " "}
	tgt.Normalise()

	if tgt.URI != "/light/1" || tgt.Host != "knx-gw" || tgt.URL != "" {
		t.Errorf("Normalise() = %+v, want trimmed fields", tgt)
	}
	if tgt.Transport != TransportMQTT {
		t.Errorf("Transport = %q, want %q", tgt.Transport, TransportMQTT)
	}

	http := Target{URI: "/status", Host: "nvr", Transport: TransportHTTP}
	http.Normalise()
	if http.Transport != TransportHTTP {
		t.Errorf("Transport = %q, want explicit transport kept", http.Transport)
	}
}

func TestTarget_Validate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{"mqtt target", Target{URI: "/light/1", Host: "knx-gw", Transport: TransportMQTT}, false},
		{"default transport", Target{URI: "/light/1", Host: "knx-gw"}, false},
		{"http target", Target{URI: "/status", Host: "nvr", Transport: TransportHTTP, URL: "https://nvr.local/status"}, false},
		{"missing uri", Target{Host: "knx-gw"}, true},
		{"missing host", Target{URI: "/light/1"}, true},
		{"wildcard host", Target{URI: "/light/1", Host: "knx/+"}, true},
		{"http without url", Target{URI: "/status", Host: "nvr", Transport: TransportHTTP}, true},
		{"http relative url", Target{URI: "/status", Host: "nvr", Transport: TransportHTTP, URL: "/status"}, true},
		{"http wrong scheme", Target{URI: "/status", Host: "nvr", Transport: TransportHTTP, URL: "ftp://nvr.local/status"}, true},
		{"unknown transport", Target{URI: "/light/1", Host: "knx-gw", Transport: "coap"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTarget) {
					t.Errorf("Validate() error = %v, want ErrInvalidTarget", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
