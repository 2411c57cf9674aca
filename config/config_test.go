package config

import (
	"strings"
	"testing"

	"github.com/jmorenobl/soni/dialogue"
	"github.com/jmorenobl/soni/flow"
)

const sampleYAML = `
flows:
  book_flight:
    name: book_flight
    description: Book a flight
    steps:
      - step: ask_origin
        type: collect
        slot: origin
        prompt: "Where from?"
      - step: ask_destination
        type: collect
        slot: destination
        prompt: "Where to?"
      - step: confirm_booking
        type: confirm
        slot: book
        prompt: "Book {origin} to {destination}?"
      - step: do_search
        type: action
        call: search_flights
        inputs: [origin, destination]
        map_outputs:
          flight_id: flight_id

actions:
  search_flights:
    description: Search for flights
    inputs: [origin, destination]
    outputs: [flight_id]

slots:
  origin:
    type: string
    normalizer: upper
  destination:
    type: string
    normalizer: upper

settings:
  persistence:
    backend: sqlite
    connection: ./dev.db
  nlu:
    provider: anthropic
    model: claude-sonnet-4-5-20250929
  limits:
    max_flow_stack_depth: 4
  responses:
    cancelled: "Cancelled!"
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	fc, ok := cfg.Flows["book_flight"]
	if !ok || len(fc.Steps) != 4 {
		t.Fatalf("expected book_flight with 4 steps, got %+v", fc)
	}
	if fc.Steps[0].Type != flow.StepCollect || fc.Steps[0].Slot != "origin" {
		t.Errorf("collect step misparsed: %+v", fc.Steps[0])
	}
	if fc.Steps[3].MapOutputs["flight_id"] != "flight_id" {
		t.Errorf("map_outputs misparsed: %+v", fc.Steps[3])
	}

	if cfg.Slots["origin"].Normalizer != "upper" {
		t.Errorf("slot config misparsed: %+v", cfg.Slots["origin"])
	}
	if cfg.Settings.Persistence.Backend != "sqlite" {
		t.Errorf("persistence misparsed: %+v", cfg.Settings.Persistence)
	}
	if cfg.Settings.Responses.Cancelled != "Cancelled!" {
		t.Errorf("responses misparsed: %+v", cfg.Settings.Responses)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	l := cfg.Settings.Limits
	if l.MaxFlowStackDepth != 4 {
		t.Errorf("expected configured depth 4, got %d", l.MaxFlowStackDepth)
	}
	if l.MaxDigressionDepth != DefaultMaxDigressionDepth {
		t.Errorf("expected default digression depth, got %d", l.MaxDigressionDepth)
	}
	if l.MaxConfirmationAttempts != DefaultMaxConfirmationAttempts {
		t.Errorf("expected default confirmation attempts, got %d", l.MaxConfirmationAttempts)
	}
	if l.SubgraphIterationLimit != DefaultSubgraphIterationLimit {
		t.Errorf("expected default iteration limit, got %d", l.SubgraphIterationLimit)
	}
	if l.ActionTimeoutSeconds != DefaultActionTimeoutSeconds {
		t.Errorf("expected default action timeout, got %d", l.ActionTimeoutSeconds)
	}
	if l.StackOverflowPolicy != dialogue.OverflowCancelOldest {
		t.Errorf("expected cancel-oldest default, got %s", l.StackOverflowPolicy)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"undeclared action",
			`
flows:
  f:
    steps:
      - {step: s, type: action, call: ghost}
`,
			"undeclared action",
		},
		{
			"flow without steps",
			`
flows:
  f:
    steps: []
`,
			"no steps",
		},
		{
			"unknown backend",
			`
flows:
  f:
    steps:
      - {step: s, type: say, message: hi}
settings:
  persistence:
    backend: carrier-pigeon
`,
			"unknown persistence backend",
		},
		{
			"sqlite without connection",
			`
flows:
  f:
    steps:
      - {step: s, type: say, message: hi}
settings:
  persistence:
    backend: sqlite
`,
			"requires a connection",
		},
		{
			"bad overflow policy",
			`
flows:
  f:
    steps:
      - {step: s, type: say, message: hi}
settings:
  limits:
    stack_overflow_policy: explode
`,
			"unknown stack overflow policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParse_NestedWhileActionRefs(t *testing.T) {
	yaml := `
flows:
  f:
    steps:
      - step: loop
        type: while
        condition: "!done"
        do:
          - {step: work, type: action, call: ghost}
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "undeclared action") {
		t.Errorf("expected nested action ref checked, got %v", err)
	}
}
