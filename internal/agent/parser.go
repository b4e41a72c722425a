package agent

import (
	"strconv"
	"strings"

	"github.com/ashita-ai/kaigi/internal/model"
)

// ResultParser extracts a structured AgentResult from free-form agent
// output. The heuristics live behind this interface so orchestration code
// never depends on text-pattern details.
type ResultParser interface {
	Parse(content string) (model.AgentResult, error)
}

// LineParser is the default parser. It scans for labeled lines
// ("Score: 0.8", "Recommendation: buy") and bullet lists under "Insights:"
// and "Risks:" headings. Unlabeled content becomes the analysis text.
type LineParser struct{}

// Parse implements ResultParser. It never fails — output that matches no
// pattern is still a valid analysis-only result.
func (LineParser) Parse(content string) (model.AgentResult, error) {
	res := model.AgentResult{Analysis: strings.TrimSpace(content)}

	section := ""
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "score:"):
			if f, ok := parseFraction(line[len("score:"):]); ok {
				res.Score = &f
			}
			section = ""
		case strings.HasPrefix(lower, "confidence:"):
			if f, ok := parseFraction(line[len("confidence:"):]); ok {
				res.Confidence = &f
			}
			section = ""
		case strings.HasPrefix(lower, "recommendation:"):
			res.Recommendation = normalizeRecommendation(line[len("recommendation:"):])
			section = ""
		case strings.HasPrefix(lower, "insights:"):
			section = "insights"
		case strings.HasPrefix(lower, "risks:"):
			section = "risks"
		case strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*"):
			item := strings.TrimSpace(strings.TrimLeft(line, "-* "))
			if item == "" {
				continue
			}
			switch section {
			case "insights":
				res.Insights = append(res.Insights, item)
			case "risks":
				res.Risks = append(res.Risks, item)
			}
		default:
			section = ""
		}
	}
	return res, nil
}

// parseFraction reads a number, accepting both "0.8" and "80%" forms,
// clamped to [0, 1].
func parseFraction(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if pct || f > 1 {
		f /= 100
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return f, true
}

func normalizeRecommendation(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(s), ".!")))
}
