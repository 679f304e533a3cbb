package mailbox

// Preset holds well-known server settings for a hosted mail service
type Preset struct {
	IMAPHost   string
	IMAPPort   int
	SMTPHost   string
	SMTPPort   int
	SMTPUseSSL bool
}

var presets = map[string]Preset{
	"gmail": {
		IMAPHost:   "imap.gmail.com",
		IMAPPort:   993,
		SMTPHost:   "smtp.gmail.com",
		SMTPPort:   465,
		SMTPUseSSL: true,
	},
	"outlook": {
		IMAPHost: "outlook.office365.com",
		IMAPPort: 993,
		SMTPHost: "smtp.office365.com",
		SMTPPort: 587,
	},
}

// PresetFor returns the server settings for a hosted service name
func PresetFor(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}
