package rulebook

// EventCategory groups provider/system events into the four buckets
// the dispatcher's handler table switches on (spec.md §4.9).
type EventCategory string

const (
	CategorySuccess        EventCategory = "success"
	CategoryAutoReschedule EventCategory = "autoReschedule"
	CategorySpam           EventCategory = "spam"
	CategoryFailed         EventCategory = "failed"
	CategoryUnknown        EventCategory = "unknown"
)

// EventCategoryInfo is what getEventCategory returns: the category plus
// the handler actions it implies and any lead-score adjustment.
type EventCategoryInfo struct {
	Category        EventCategory
	Actions         []string
	ScoreAdjustment int
}

var eventCategories = map[string]EventCategoryInfo{
	"sent":          {Category: CategorySuccess, Actions: []string{"markSent"}},
	"delivered":     {Category: CategorySuccess, Actions: []string{"markDelivered", "autoResumeIfPaused", "scheduleNext"}},
	"opened":        {Category: CategorySuccess, Actions: []string{"markOpened", "incrementCounter", "evaluateTriggers"}, ScoreAdjustment: 5},
	"unique_opened": {Category: CategorySuccess, Actions: []string{"markOpened", "incrementCounter", "evaluateTriggers"}, ScoreAdjustment: 5},
	"clicked":       {Category: CategorySuccess, Actions: []string{"markClicked", "incrementCounter", "evaluateTriggers"}, ScoreAdjustment: 10},

	"soft_bounce": {Category: CategoryAutoReschedule, Actions: []string{"rescheduleWithDelay", "markOldJob"}},
	"deferred":    {Category: CategoryAutoReschedule, Actions: []string{"rescheduleWithDelay", "markOldJob"}},

	"hard_bounce": {Category: CategoryFailed, Actions: []string{"markFailed", "pauseOtherJobs", "notify"}, ScoreAdjustment: -15},
	"blocked":     {Category: CategoryFailed, Actions: []string{"markFailed", "pauseOtherJobs", "notify"}, ScoreAdjustment: -10},
	"invalid":     {Category: CategoryFailed, Actions: []string{"markFailed", "pauseOtherJobs", "notify"}, ScoreAdjustment: -10},
	"error":       {Category: CategoryFailed, Actions: []string{"markFailed", "pauseOtherJobs", "notify"}},

	"unsubscribed": {Category: CategorySpam, Actions: []string{"markTerminal", "cancelAllActive", "notify"}, ScoreAdjustment: -20},
	"complaint":    {Category: CategorySpam, Actions: []string{"markTerminal", "cancelAllActive", "notify"}, ScoreAdjustment: -30},
}

// GetEventCategory classifies a provider/system event name. Unknown
// events are returned with CategoryUnknown and no actions, which the
// dispatcher treats as a log-and-drop.
func GetEventCategory(event string) EventCategoryInfo {
	if info, ok := eventCategories[event]; ok {
		return info
	}
	return EventCategoryInfo{Category: CategoryUnknown}
}
