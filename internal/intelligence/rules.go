package intelligence

import "strings"

// Keyword tiers, checked in order against the lowercased title and body.
// The first tier with a match decides the urgency.
var urgencyTiers = []struct {
	urgency  Urgency
	keywords []string
}{
	{UrgencyCritical, []string{
		"emergency", "urgent", "critical", "security alert", "fraud alert",
		"data breach", "immediately", "system down",
	}},
	{UrgencyHigh, []string{
		"important", "asap", "action required", "deadline", "overdue",
		"payment failed", "expires today", "verification code",
	}},
	{UrgencyMedium, []string{
		"reminder", "meeting", "invitation", "due ", "scheduled",
		"tomorrow", "update available",
	}},
}

type categoryRule struct {
	category Category
	matches  func(appID, text string) bool
}

func appIn(ids ...string) func(appID, _ string) bool {
	return func(appID, _ string) bool {
		for _, id := range ids {
			if appID == id {
				return true
			}
		}
		return false
	}
}

func textHas(keywords ...string) func(_, text string) bool {
	return func(_, text string) bool {
		for _, k := range keywords {
			if strings.Contains(text, k) {
				return true
			}
		}
		return false
	}
}

// App identifiers are compared lowercased.
var categoryRules = []categoryRule{
	{CategoryMessaging, appIn(
		"com.whatsapp", "net.whatsapp.whatsapp", "org.telegram.messenger",
		"ph.telegra.telegraph", "com.apple.mobilesms", "com.facebook.orca",
		"org.thoughtcrime.securesms", "org.whispersystems.signal",
		"com.tinyspeck.chatlyio", "com.microsoft.teams", "com.hammerandchisel.discord",
	)},
	{CategoryCalendar, textHas("meeting", "calendar", "invitation", "appointment", "event starts")},
	{CategoryEmail, appIn(
		"com.apple.mobilemail", "com.google.gmail", "com.microsoft.office.outlook",
		"ch.protonmail.protonmail", "com.readdle.smartemail",
	)},
	{CategoryFinance, textHas("payment", "transaction", "bank", "balance", "invoice", "charged", "deposit")},
	{CategoryHealth, textHas("workout", "heart rate", "medication", "steps", "sleep")},
	{CategoryDelivery, textHas("out for delivery", "delivered", "package", "shipped", "tracking number")},
	{CategorySocial, appIn(
		"com.facebook.facebook", "com.burbn.instagram", "com.atebits.tweetie2",
		"com.zhiliaoapp.musically", "com.linkedin.linkedin", "com.reddit.reddit",
	)},
	{CategoryNews, textHas("breaking", "news", "headline")},
	{CategorySystem, func(appID, _ string) bool { return strings.HasPrefix(appID, "com.apple.") }},
}

var categoryActions = map[Category][]SuggestedAction{
	CategoryMessaging: {
		{ActionDraftReply, "Draft a reply", 0.7, true},
		{ActionMarkRead, "Mark the conversation as read", 0.6, false},
	},
	CategoryCalendar: {
		{ActionAddToCalendar, "Add to calendar", 0.8, true},
		{ActionSetReminder, "Remind me before it starts", 0.6, false},
	},
	CategoryEmail: {
		{ActionArchiveEmail, "Archive the email", 0.6, true},
		{ActionDraftReply, "Draft a reply", 0.5, true},
	},
	CategoryFinance: {
		{ActionReviewTransaction, "Review the transaction", 0.9, true},
	},
	CategoryHealth: {
		{ActionLogActivity, "Log the activity", 0.6, false},
	},
	CategoryDelivery: {
		{ActionTrackPackage, "Track the package", 0.8, false},
	},
	CategorySocial: {
		{ActionSnooze, "Snooze for an hour", 0.5, false},
	},
	CategoryNews: {
		{ActionSaveForLater, "Save for later", 0.5, false},
	},
}

var clearAction = SuggestedAction{ActionClearNotification, "Clear the notification", 1.0, false}
