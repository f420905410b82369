package main

// Input types for MCP tools. The SDK infers JSON Schema from these structs.
// Pointer types are optional; value types are required.

type speakerOnlyInput struct {
	Speaker *string `json:"speaker,omitempty" jsonschema:"User to act as. If omitted uses the default user."`
}

type listInput struct {
	Limit   *int    `json:"limit,omitempty"   jsonschema:"Maximum number of items to return (default 20)"`
	Speaker *string `json:"speaker,omitempty" jsonschema:"User to act as. If omitted uses the default user."`
}

type itemSaveInput struct {
	URL     *string `json:"url,omitempty"     jsonschema:"The link to save"`
	Text    *string `json:"text,omitempty"    jsonschema:"Shared text containing a link, used when url is omitted"`
	Title   *string `json:"title,omitempty"   jsonschema:"Optional title. If omitted the page title is scraped."`
	Scrape  *bool   `json:"scrape,omitempty"  jsonschema:"Fetch title, description and thumbnail (default true)"`
	Speaker *string `json:"speaker,omitempty" jsonschema:"User to act as. If omitted uses the default user."`
}

type itemIDInput struct {
	ItemID  string  `json:"item_id"           jsonschema:"The item ID"`
	Speaker *string `json:"speaker,omitempty" jsonschema:"User to act as. If omitted uses the default user."`
}

type itemSnoozeInput struct {
	ItemID  string  `json:"item_id"           jsonschema:"The item ID"`
	Until   *string `json:"until,omitempty"   jsonschema:"tomorrow or next_week (default tomorrow)"`
	Speaker *string `json:"speaker,omitempty" jsonschema:"User to act as. If omitted uses the default user."`
}

type itemPinInput struct {
	ItemID  string  `json:"item_id"           jsonschema:"The item ID to pin/unpin"`
	Pinned  *bool   `json:"pinned,omitempty"  jsonschema:"true to pin, false to unpin (default true)"`
	Speaker *string `json:"speaker,omitempty" jsonschema:"User to act as. If omitted uses the default user."`
}

type settingsUpdateInput struct {
	ItemsPerDay  *int    `json:"items_per_day,omitempty" jsonschema:"How many items to surface each day (1-20)"`
	ReminderHour *int    `json:"reminder_hour,omitempty" jsonschema:"Local hour for the daily reminder (0-23)"`
	Timezone     *string `json:"timezone,omitempty"      jsonschema:"IANA timezone name, e.g. Europe/Berlin"`
	PushOptIn    *bool   `json:"push_opt_in,omitempty"   jsonschema:"Whether to send the daily reminder"`
	Speaker      *string `json:"speaker,omitempty"       jsonschema:"User to act as. If omitted uses the default user."`
}

type feedSubscribeInput struct {
	URL     string  `json:"url"               jsonschema:"The RSS/Atom feed URL"`
	Title   *string `json:"title,omitempty"   jsonschema:"Optional display title for the feed. If omitted the feed's own title is used."`
	Speaker *string `json:"speaker,omitempty" jsonschema:"User to act as. If omitted uses the default user."`
}

type feedIDInput struct {
	FeedID  int64   `json:"feed_id"           jsonschema:"The feed ID"`
	Speaker *string `json:"speaker,omitempty" jsonschema:"User to act as. If omitted uses the default user."`
}

type emptyInput struct{}
