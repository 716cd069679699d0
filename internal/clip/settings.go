package clip

// Setting keys recognised in the settings table. Stored values override the
// matching config file entries and are re-read on every pass.
const (
	SettingMaxStorage = "max_storage" // size string, e.g. "500MB"
	SettingMaxItems   = "max_items"   // non-negative integer
	SettingMaxDays    = "max_days"    // non-negative integer
)

// SettingKeys lists every recognised key.
var SettingKeys = []string{SettingMaxStorage, SettingMaxItems, SettingMaxDays}
