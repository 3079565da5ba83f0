package classify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

const (
	adtA01  = "MSH|^~\\&|HIS|RIH|EKG|EKG|199904140038||ADT^A01|MSG00001|P|2.5\rPID|||555-44-4444||EVERYWOMAN^EVE\r"
	ccda    = `<?xml version="1.0"?><ClinicalDocument xmlns="urn:hl7-org:v3"><title>Summary</title></ClinicalDocument>`
	patient = `{"resourceType":"Patient","id":"example","active":true}`
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    domain.MessageType
	}{
		{"v2 message", adtA01, domain.MessageTypeV2},
		{"v2 header only", "MSH|", domain.MessageTypeV2},
		{"v3 document", ccda, domain.MessageTypeV3},
		{"v3 marker anywhere", "garbage <ClinicalDocument>", domain.MessageTypeV3},
		{"fhir resource", patient, domain.MessageTypeFHIR},
		{"fhir with whitespace", "\n  {\"resourceType\": \"Observation\"}\n", domain.MessageTypeFHIR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_Unrecognized(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"invalid utf-8", []byte{0xFF, 0xFE}},
		{"plain text", []byte("hello world")},
		{"lowercase header", []byte("msh|^~\\&|")},
		{"header without separator", []byte("MSH^~\\&")},
		{"header not at start", []byte(" MSH|^~\\&|")},
		{"json without resourceType", []byte(`{"id":"x"}`)},
		{"nested resourceType", []byte(`{"entry":{"resourceType":"Patient"}}`)},
		{"json array", []byte(`[{"resourceType":"Patient"}]`)},
		{"truncated json", []byte(`{"resourceType":"Patient"`)},
		{"other xml root", []byte(`<Document/>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.payload)
			assert.Equal(t, domain.MessageTypeUnknown, got)
			assert.ErrorIs(t, err, domain.ErrFormat)

			var fe *domain.FormatError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestClassify_OrderOfChecks(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    domain.MessageType
	}{
		{
			name:    "v2 header wins over v3 marker",
			payload: "MSH|^~\\&|\rOBX|1|ED|<ClinicalDocument/>",
			want:    domain.MessageTypeV2,
		},
		{
			name:    "v3 marker wins over fhir json",
			payload: `{"resourceType":"Binary","data":"<ClinicalDocument>"}`,
			want:    domain.MessageTypeV3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	payloads := [][]byte{[]byte(adtA01), []byte(ccda), []byte(patient), {0xFF, 0xFE}}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				for _, p := range payloads {
					first, firstErr := Classify(p)
					again, againErr := Classify(p)
					assert.Equal(t, first, again)
					assert.Equal(t, firstErr == nil, againErr == nil)
				}
			}
		}()
	}
	wg.Wait()
}

func TestIs(t *testing.T) {
	assert.True(t, Is([]byte(adtA01)))
	assert.True(t, Is([]byte(adtA01), domain.MessageTypeV2))
	assert.True(t, Is([]byte(patient), domain.MessageTypeV2, domain.MessageTypeFHIR))
	assert.False(t, Is([]byte(ccda), domain.MessageTypeFHIR))
	assert.False(t, Is([]byte("nope")))
}
