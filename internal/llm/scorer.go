package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"outreach/pipeline/internal/pipeline"
	"outreach/pipeline/internal/records"
)

const DefaultThreshold = 60

const scorerSystem = `You evaluate professional profiles for outreach fit.
Score the profile from 0 to 100 against the rubric.
Reply with ONLY a JSON object: {"score": <number>, "decision": "send" or "skip", "reason": "<short reason when skipping>"}.`

// Scorer rates candidates with a language model.
type Scorer struct {
	LLM       Completer
	Rubric    string
	Threshold float64 // used when the model omits a decision
	Logger    *zap.Logger
}

type scoreReply struct {
	Score    *float64 `json:"score"`
	Decision string   `json:"decision"`
	Reason   string   `json:"reason"`
}

func (s *Scorer) Score(ctx context.Context, c pipeline.Candidate) (pipeline.Score, error) {
	if c.Profile == nil {
		return pipeline.Score{}, fmt.Errorf("no fetched profile for %s", c.Record.ProfileURL)
	}
	prompt := "Rubric:\n" + s.rubric() + "\n\nProfile:\n" + describeProfile(c)
	reply, err := s.LLM.Complete(ctx, scorerSystem, prompt)
	if err != nil {
		return pipeline.Score{}, err
	}
	sc, err := s.parse(reply)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Debug("unparsable score reply", zap.String("reply", reply))
		}
		return pipeline.Score{}, err
	}
	return sc, nil
}

func (s *Scorer) rubric() string {
	if strings.TrimSpace(s.Rubric) != "" {
		return s.Rubric
	}
	return "Prefer decision makers and practitioners whose current role relates to our offering."
}

func (s *Scorer) threshold() float64 {
	if s.Threshold > 0 {
		return s.Threshold
	}
	return DefaultThreshold
}

func (s *Scorer) parse(reply string) (pipeline.Score, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return pipeline.Score{}, err
	}
	var r scoreReply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return pipeline.Score{}, fmt.Errorf("decoding score: %w", err)
	}
	if r.Score == nil {
		return pipeline.Score{}, fmt.Errorf("score reply has no score")
	}
	if *r.Score < 0 || *r.Score > 100 {
		return pipeline.Score{}, fmt.Errorf("score %v out of range 0-100", *r.Score)
	}

	out := pipeline.Score{Value: *r.Score, Reason: strings.TrimSpace(r.Reason)}
	switch strings.ToLower(strings.TrimSpace(r.Decision)) {
	case "send", "yes":
		out.Decision = records.DecisionSend
	case "skip", "no":
		out.Decision = records.DecisionSkip
	case "":
		if out.Value >= s.threshold() {
			out.Decision = records.DecisionSend
		} else {
			out.Decision = records.DecisionSkip
			if out.Reason == "" {
				out.Reason = fmt.Sprintf("score %.0f below threshold %.0f", out.Value, s.threshold())
			}
		}
	default:
		return pipeline.Score{}, fmt.Errorf("unknown decision %q", r.Decision)
	}
	if out.Decision == records.DecisionSend {
		out.Reason = ""
	}
	return out, nil
}

// describeProfile renders the parts of a candidate a model needs.
func describeProfile(c pipeline.Candidate) string {
	var b strings.Builder
	name := c.Record.Name
	if p := c.Profile; p != nil && p.Name != "" {
		name = p.Name
	}
	fmt.Fprintf(&b, "Name: %s\n", name)
	p := c.Profile
	if p == nil {
		return b.String()
	}
	if p.Headline != "" {
		fmt.Fprintf(&b, "Headline: %s\n", p.Headline)
	}
	if p.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", p.Location)
	}
	if p.About != "" {
		fmt.Fprintf(&b, "About: %s\n", p.About)
	}
	if len(p.Experience) > 0 {
		b.WriteString("Experience:\n")
		for _, e := range p.Experience {
			line := e.Title
			if e.Company != "" {
				line += " at " + e.Company
			}
			if e.Duration != "" {
				line += " (" + e.Duration + ")"
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(p.Skills, ", "))
	}
	return b.String()
}
