package intelligence

import (
	"slices"
	"strings"
	"time"
)

// Classify derives urgency, category and suggested actions from the title
// and body of n. It is deterministic in its inputs. appUrgency applies when
// no keyword tier matches.
func Classify(n ObservedNotification, appUrgency *Urgency, at time.Time) *ClassifiedNotification {
	text := strings.ToLower(n.Title + " " + n.Body)
	appID := strings.ToLower(n.AppIdentifier)

	category := classifyCategory(appID, text)
	return &ClassifiedNotification{
		Notification:     n,
		Urgency:          classifyUrgency(text, appUrgency),
		Category:         category,
		SuggestedActions: suggestActions(category),
		ClassifiedAt:     at.UTC(),
	}
}

func classifyUrgency(text string, appUrgency *Urgency) Urgency {
	for _, tier := range urgencyTiers {
		for _, k := range tier.keywords {
			if strings.Contains(text, k) {
				return tier.urgency
			}
		}
	}
	if appUrgency != nil {
		return *appUrgency
	}
	return UrgencyLow
}

func classifyCategory(appID, text string) Category {
	for _, rule := range categoryRules {
		if rule.matches(appID, text) {
			return rule.category
		}
	}
	return CategoryOther
}

func suggestActions(c Category) []SuggestedAction {
	actions := slices.Clone(categoryActions[c])
	return append(actions, clearAction)
}
