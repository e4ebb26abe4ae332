package model

// Tunables are the viper-loaded knobs with safe defaults.
type Tunables struct {
	EditWindowMinutes     int              `mapstructure:"edit_window_minutes"`
	ScheduleLeadMinutes   int              `mapstructure:"schedule_lead_minutes"`
	ExpiryMinSeconds      int              `mapstructure:"expiry_min_seconds"`
	ExpiryMaxSeconds      int              `mapstructure:"expiry_max_seconds"`
	XPAward               int64            `mapstructure:"xp_award"`
	XPMessageInterval     int64            `mapstructure:"xp_message_interval"`
	XPPerLevel            int64            `mapstructure:"xp_per_level"`
	TrendingLimit         int              `mapstructure:"trending_limit"`
	DefaultPolicy         ModerationPolicy `mapstructure:"default_policy"`
	RecentPurgeWindowHrs  int              `mapstructure:"recent_purge_window_hours"`
	NotificationKeepDays  int              `mapstructure:"notification_keep_days"`
	ModerationLogMaxItems int              `mapstructure:"moderation_log_max_items"`
}

// Config stores the application configuration.
type Config struct {
	DBPath               string
	GatewayAddr          string
	SweepIntervalSeconds int
	WordListPath         string
	Tunables             Tunables
}
