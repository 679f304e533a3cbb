package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

// secretFields are moved out of Config into the credential store
var secretFields = []string{"password", "api_key", "client_secret", "refresh_token"}

// Capability is something a mailbox provider can do
type Capability string

const (
	CapabilityFetch Capability = "fetch"
	CapabilitySend  Capability = "send"
)

// RegisterMailboxInput represents the input for registering a mailbox provider.
// Config may carry secret fields; they never reach the config column.
type RegisterMailboxInput struct {
	Name        string
	Kind        models.MailboxProviderKind
	MailboxKind models.MailboxKind
	Config      map[string]string
	Inactive    bool // register without activating, e.g. before an OAuth consent
}

// RegisterModelInput represents the input for registering a model provider
type RegisterModelInput struct {
	Name     string
	Kind     models.ModelProviderKind
	Config   map[string]string
	Priority int
	Inactive bool
}

// UpdateProviderInput changes a provider. Config entries are merged into the
// existing configuration; an empty value removes the key.
type UpdateProviderInput struct {
	Name        *string
	MailboxKind *models.MailboxKind
	Priority    *int
	Config      map[string]string
}

// ProviderRegistry owns mailbox and model provider configuration. Readers get
// copies from an in-memory snapshot refreshed only by the registry's own
// write operations.
type ProviderRegistry struct {
	db         *gorm.DB
	creds      CredentialStore
	opener     Opener
	logService *LogService

	mu        sync.RWMutex
	mailboxes map[uint]models.MailboxProvider
	models    map[uint]models.ModelProvider
	engines   map[uint]functions.Engine
}

// NewProviderRegistry creates a registry. Call Load before use.
func NewProviderRegistry(db *gorm.DB, creds CredentialStore, opener Opener, logService *LogService) *ProviderRegistry {
	if logService == nil {
		logService = NewLogService(db)
	}
	return &ProviderRegistry{
		db:         db,
		creds:      creds,
		opener:     opener,
		logService: logService,
		mailboxes:  map[uint]models.MailboxProvider{},
		models:     map[uint]models.ModelProvider{},
		engines:    map[uint]functions.Engine{},
	}
}

// Load reads all providers into the snapshot
func (r *ProviderRegistry) Load() error {
	var mailboxes []models.MailboxProvider
	if err := r.db.Find(&mailboxes).Error; err != nil {
		return err
	}
	var modelProviders []models.ModelProvider
	if err := r.db.Find(&modelProviders).Error; err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.mailboxes = make(map[uint]models.MailboxProvider, len(mailboxes))
	for _, p := range mailboxes {
		r.mailboxes[p.ID] = p
	}
	r.models = make(map[uint]models.ModelProvider, len(modelProviders))
	for _, p := range modelProviders {
		r.models[p.ID] = p
	}
	r.engines = map[uint]functions.Engine{}
	return nil
}

// ListMailboxes returns every mailbox provider ordered by ID
func (r *ProviderRegistry) ListMailboxes() []models.MailboxProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.MailboxProvider, 0, len(r.mailboxes))
	for _, p := range r.mailboxes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListActiveMailboxes returns the active mailbox providers that have the
// capability, ordered by ID
func (r *ProviderRegistry) ListActiveMailboxes(capability Capability) []models.MailboxProvider {
	var out []models.MailboxProvider
	for _, p := range r.ListMailboxes() {
		if !p.Active {
			continue
		}
		if capability == CapabilitySend && !p.CanSend() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ListModels returns every model provider ordered by priority then ID
func (r *ProviderRegistry) ListModels() []models.ModelProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ModelProvider, 0, len(r.models))
	for _, p := range r.models {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListActiveModels returns the active model providers, preferred first
func (r *ProviderRegistry) ListActiveModels() []models.ModelProvider {
	var out []models.ModelProvider
	for _, p := range r.ListModels() {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// GetMailbox returns an active mailbox provider
func (r *ProviderRegistry) GetMailbox(id uint) (*models.MailboxProvider, error) {
	r.mu.RLock()
	p, ok := r.mailboxes[id]
	r.mu.RUnlock()
	if !ok || !p.Active {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

// FindMailbox returns a mailbox provider whether or not it is active
func (r *ProviderRegistry) FindMailbox(id uint) (*models.MailboxProvider, error) {
	r.mu.RLock()
	p, ok := r.mailboxes[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

// GetModel returns an active model provider
func (r *ProviderRegistry) GetModel(id uint) (*models.ModelProvider, error) {
	r.mu.RLock()
	p, ok := r.models[id]
	r.mu.RUnlock()
	if !ok || !p.Active {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

// FindModel returns a model provider whether or not it is active
func (r *ProviderRegistry) FindModel(id uint) (*models.ModelProvider, error) {
	r.mu.RLock()
	p, ok := r.models[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

// PrimaryModel returns the active model provider with the lowest priority
func (r *ProviderRegistry) PrimaryModel() (*models.ModelProvider, error) {
	active := r.ListActiveModels()
	if len(active) == 0 {
		return nil, ErrProviderNotFound
	}
	return &active[0], nil
}

// RegisterMailbox validates and stores a mailbox provider
func (r *ProviderRegistry) RegisterMailbox(input RegisterMailboxInput) (*models.MailboxProvider, error) {
	if input.MailboxKind == "" {
		input.MailboxKind = models.MailboxGeneral
	}
	if !input.MailboxKind.IsValid() {
		return nil, fmt.Errorf("%w: unknown mailbox kind %q", ErrInvalidProviderConfig, input.MailboxKind)
	}

	cfg, err := ValidateMailboxConfig(input.Kind, input.Config, !input.Inactive)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = defaultMailboxName(input.Kind, cfg)
	}

	plain, secrets, err := r.sealSecrets(cfg, nil)
	if err != nil {
		return nil, err
	}

	p := &models.MailboxProvider{
		Name:        name,
		Kind:        input.Kind,
		Config:      plain,
		Secrets:     secrets,
		MailboxKind: input.MailboxKind,
		Active:      !input.Inactive,
	}
	if err := r.db.Transaction(func(tx *gorm.DB) error {
		return createProvider(tx, p, input.Inactive)
	}); err != nil {
		return nil, err
	}
	p.Active = !input.Inactive

	r.mu.Lock()
	r.mailboxes[p.ID] = *p
	r.mu.Unlock()

	r.logService.LogProviderRegistered(p.ID, p.Name, string(p.Kind))
	return p, nil
}

// RegisterModel validates and stores a model provider
func (r *ProviderRegistry) RegisterModel(input RegisterModelInput) (*models.ModelProvider, error) {
	cfg, err := ValidateModelConfig(input.Kind, input.Config)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = string(input.Kind)
		if m := cfg["model"]; m != "" {
			name += " - " + m
		}
	}
	priority := input.Priority
	if priority == 0 {
		priority = 100
	}

	plain, secrets, err := r.sealSecrets(cfg, nil)
	if err != nil {
		return nil, err
	}

	p := &models.ModelProvider{
		Name:     name,
		Kind:     input.Kind,
		Config:   plain,
		Secrets:  secrets,
		Priority: priority,
		Active:   !input.Inactive,
	}
	if err := r.db.Transaction(func(tx *gorm.DB) error {
		return createProvider(tx, p, input.Inactive)
	}); err != nil {
		return nil, err
	}
	p.Active = !input.Inactive

	r.mu.Lock()
	r.models[p.ID] = *p
	r.mu.Unlock()

	r.logService.LogProviderRegistered(p.ID, p.Name, string(p.Kind))
	return p, nil
}

// UpdateMailbox merges input into a mailbox provider and revalidates it
func (r *ProviderRegistry) UpdateMailbox(id uint, input UpdateProviderInput) (*models.MailboxProvider, error) {
	current, err := r.FindMailbox(id)
	if err != nil {
		return nil, err
	}

	merged, err := r.openSecrets(current.Config, current.Secrets)
	if err != nil {
		return nil, err
	}
	mergeConfig(merged, input.Config)

	cfg, err := ValidateMailboxConfig(current.Kind, merged, current.Active)
	if err != nil {
		return nil, err
	}

	updated := *current
	if input.Name != nil && strings.TrimSpace(*input.Name) != "" {
		updated.Name = strings.TrimSpace(*input.Name)
	}
	if input.MailboxKind != nil {
		if !input.MailboxKind.IsValid() {
			return nil, fmt.Errorf("%w: unknown mailbox kind %q", ErrInvalidProviderConfig, *input.MailboxKind)
		}
		updated.MailboxKind = *input.MailboxKind
	}
	updated.Config, updated.Secrets, err = r.sealSecrets(cfg, current.Secrets)
	if err != nil {
		return nil, err
	}

	if err := r.db.Save(&updated).Error; err != nil {
		return nil, err
	}
	r.dropStaleSecrets(current.Secrets, updated.Secrets)

	r.mu.Lock()
	r.mailboxes[id] = updated
	r.mu.Unlock()

	r.logService.LogProviderUpdated(updated.ID, updated.Name, string(updated.Kind))
	return &updated, nil
}

// UpdateModel merges input into a model provider and revalidates it
func (r *ProviderRegistry) UpdateModel(id uint, input UpdateProviderInput) (*models.ModelProvider, error) {
	current, err := r.FindModel(id)
	if err != nil {
		return nil, err
	}

	merged, err := r.openSecrets(current.Config, current.Secrets)
	if err != nil {
		return nil, err
	}
	mergeConfig(merged, input.Config)

	cfg, err := ValidateModelConfig(current.Kind, merged)
	if err != nil {
		return nil, err
	}

	updated := *current
	if input.Name != nil && strings.TrimSpace(*input.Name) != "" {
		updated.Name = strings.TrimSpace(*input.Name)
	}
	if input.Priority != nil {
		updated.Priority = *input.Priority
	}
	updated.Config, updated.Secrets, err = r.sealSecrets(cfg, current.Secrets)
	if err != nil {
		return nil, err
	}

	if err := r.db.Save(&updated).Error; err != nil {
		return nil, err
	}
	r.dropStaleSecrets(current.Secrets, updated.Secrets)

	r.mu.Lock()
	r.models[id] = updated
	delete(r.engines, id)
	r.mu.Unlock()

	r.logService.LogProviderUpdated(updated.ID, updated.Name, string(updated.Kind))
	return &updated, nil
}

// SetMailboxActive enables or disables a mailbox provider. Enabling
// revalidates the full configuration first.
func (r *ProviderRegistry) SetMailboxActive(id uint, active bool) error {
	p, err := r.FindMailbox(id)
	if err != nil {
		return err
	}

	if active {
		cfg, err := r.openSecrets(p.Config, p.Secrets)
		if err != nil {
			return err
		}
		if _, err := ValidateMailboxConfig(p.Kind, cfg, true); err != nil {
			return err
		}
	}

	if err := r.db.Model(&models.MailboxProvider{}).Where("id = ?", id).Update("active", active).Error; err != nil {
		return err
	}

	r.mu.Lock()
	p.Active = active
	r.mailboxes[id] = *p
	r.mu.Unlock()

	r.logService.LogProviderStatusChanged(p.ID, p.Name, string(p.Kind), active)
	return nil
}

// SetModelActive enables or disables a model provider
func (r *ProviderRegistry) SetModelActive(id uint, active bool) error {
	p, err := r.FindModel(id)
	if err != nil {
		return err
	}

	if active {
		cfg, err := r.openSecrets(p.Config, p.Secrets)
		if err != nil {
			return err
		}
		if _, err := ValidateModelConfig(p.Kind, cfg); err != nil {
			return err
		}
	}

	if err := r.db.Model(&models.ModelProvider{}).Where("id = ?", id).Update("active", active).Error; err != nil {
		return err
	}

	r.mu.Lock()
	p.Active = active
	r.models[id] = *p
	delete(r.engines, id)
	r.mu.Unlock()

	r.logService.LogProviderStatusChanged(p.ID, p.Name, string(p.Kind), active)
	return nil
}

// OpenMailbox returns the capability handle of a mailbox provider
func (r *ProviderRegistry) OpenMailbox(ctx context.Context, p *models.MailboxProvider) (mailbox.Mailbox, error) {
	secrets, err := r.openSecrets(nil, p.Secrets)
	if err != nil {
		return nil, err
	}
	return r.opener.OpenMailbox(ctx, p, secrets)
}

// OpenModel returns the engine of a model provider. Engines are cached per
// provider so breaker state survives across messages.
func (r *ProviderRegistry) OpenModel(ctx context.Context, p *models.ModelProvider) (functions.Engine, error) {
	r.mu.RLock()
	engine, ok := r.engines[p.ID]
	r.mu.RUnlock()
	if ok {
		return engine, nil
	}

	secrets, err := r.openSecrets(nil, p.Secrets)
	if err != nil {
		return nil, err
	}
	engine, err = r.opener.OpenModel(ctx, p, secrets)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.engines[p.ID] = engine
	r.mu.Unlock()
	return engine, nil
}

// createProvider inserts p. Active carries a gorm default of true, so an
// inactive provider is switched off after the insert.
func createProvider(tx *gorm.DB, p interface{}, inactive bool) error {
	if err := tx.Create(p).Error; err != nil {
		return err
	}
	if inactive {
		return tx.Model(p).Update("active", false).Error
	}
	return nil
}

// sealSecrets splits cfg into plain config and sealed secrets. Secrets whose
// plaintext did not change keep their previous sealed value.
func (r *ProviderRegistry) sealSecrets(cfg map[string]string, previous map[string]string) (map[string]string, map[string]string, error) {
	plain := map[string]string{}
	secrets := map[string]string{}

	for k, v := range cfg {
		if !isSecretField(k) {
			plain[k] = v
			continue
		}
		if old, ok := previous[k]; ok {
			if opened, err := r.creds.Open(old); err == nil && opened == v {
				secrets[k] = old
				continue
			}
		}
		sealed, err := r.creds.Seal(k, v)
		if err != nil {
			return nil, nil, err
		}
		secrets[k] = sealed
	}
	return plain, secrets, nil
}

// MailboxConfig returns the full configuration of a mailbox provider with
// its secrets decrypted, for flows such as OAuth consent that need them
func (r *ProviderRegistry) MailboxConfig(id uint) (map[string]string, error) {
	p, err := r.FindMailbox(id)
	if err != nil {
		return nil, err
	}
	return r.openSecrets(p.Config, p.Secrets)
}

// openSecrets returns cfg merged with the decrypted secrets
func (r *ProviderRegistry) openSecrets(cfg, secrets map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(cfg)+len(secrets))
	for k, v := range cfg {
		out[k] = v
	}
	for k, v := range secrets {
		plain, err := r.creds.Open(v)
		if err != nil {
			return nil, fmt.Errorf("secret %s: %w", k, err)
		}
		out[k] = plain
	}
	return out, nil
}

func (r *ProviderRegistry) dropStaleSecrets(previous, current map[string]string) {
	for k, v := range previous {
		if current[k] != v {
			r.creds.Remove(v)
		}
	}
}

func isSecretField(name string) bool {
	for _, f := range secretFields {
		if f == name {
			return true
		}
	}
	return false
}

func mergeConfig(dst, src map[string]string) {
	for k, v := range src {
		if v == "" {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

// ValidateMailboxConfig checks the fields required by kind and fills in
// defaults. With requireComplete false only structural checks run, which lets
// a gmail_api provider be stored before its OAuth consent.
func ValidateMailboxConfig(kind models.MailboxProviderKind, in map[string]string, requireComplete bool) (map[string]string, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown mailbox provider kind %q", ErrInvalidProviderConfig, kind)
	}

	cfg := trimConfig(in)

	var required []string
	switch kind {
	case models.MailboxKindIMAP:
		required = []string{"host", "username", "password"}
		setDefault(cfg, "port", "993")
		setDefault(cfg, "use_ssl", "true")
		setDefault(cfg, "folder", "INBOX")
		if cfg["smtp_host"] != "" {
			setDefault(cfg, "smtp_port", "465")
			setDefault(cfg, "smtp_use_ssl", strconv.FormatBool(cfg["smtp_port"] == "465"))
		}
	case models.MailboxKindGmail, models.MailboxKindOutlook:
		required = []string{"username", "password"}
		setDefault(cfg, "folder", "INBOX")
	case models.MailboxKindGmailAPI:
		required = []string{"client_id", "client_secret", "refresh_token"}
		setDefault(cfg, "user", "me")
	case models.MailboxKindDirectory:
		required = []string{"path"}
	}

	for _, key := range []string{"port", "smtp_port"} {
		if v, ok := cfg[key]; ok {
			if n, err := strconv.Atoi(v); err != nil || n <= 0 || n > 65535 {
				return nil, fmt.Errorf("%w: %s must be a port number", ErrInvalidProviderConfig, key)
			}
		}
	}
	for _, key := range []string{"use_ssl", "smtp_use_ssl"} {
		if v, ok := cfg[key]; ok {
			if _, err := strconv.ParseBool(v); err != nil {
				return nil, fmt.Errorf("%w: %s must be true or false", ErrInvalidProviderConfig, key)
			}
		}
	}

	if !requireComplete {
		if kind == models.MailboxKindGmailAPI {
			required = []string{"client_id", "client_secret"}
		}
	}
	if err := requireFields(cfg, required); err != nil {
		return nil, err
	}

	if kind == models.MailboxKindDirectory {
		info, err := os.Stat(cfg["path"])
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: path %q is not a directory", ErrInvalidProviderConfig, cfg["path"])
		}
	}

	return cfg, nil
}

// ValidateModelConfig checks the fields required by kind
func ValidateModelConfig(kind models.ModelProviderKind, in map[string]string) (map[string]string, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown model provider kind %q", ErrInvalidProviderConfig, kind)
	}

	cfg := trimConfig(in)
	var required []string
	switch kind {
	case models.ModelKindOpenAI, models.ModelKindClaude:
		required = []string{"api_key"}
	case models.ModelKindAzure, models.ModelKindCustom:
		required = []string{"api_key", "base_url"}
	}
	if err := requireFields(cfg, required); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requireFields(cfg map[string]string, fields []string) error {
	var missing []string
	for _, f := range fields {
		if cfg[f] == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProviderConfig, strings.Join(missing, ", "))
	}
	return nil
}

func trimConfig(in map[string]string) map[string]string {
	cfg := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if v = strings.TrimSpace(v); k != "" && v != "" {
			cfg[k] = v
		}
	}
	return cfg
}

func setDefault(cfg map[string]string, key, value string) {
	if cfg[key] == "" {
		cfg[key] = value
	}
}

func defaultMailboxName(kind models.MailboxProviderKind, cfg map[string]string) string {
	label := map[models.MailboxProviderKind]string{
		models.MailboxKindIMAP:      "IMAP",
		models.MailboxKindGmail:     "Gmail",
		models.MailboxKindOutlook:   "Outlook",
		models.MailboxKindGmailAPI:  "Gmail API",
		models.MailboxKindDirectory: "Directory",
	}[kind]

	switch {
	case cfg["username"] != "":
		return label + " - " + cfg["username"]
	case cfg["path"] != "":
		return label + " - " + cfg["path"]
	}
	return label
}

// NewGmailPreset builds the registration for a Gmail account over IMAP/SMTP
// with an app password.
func NewGmailPreset(username, password string, kind models.MailboxKind) RegisterMailboxInput {
	return RegisterMailboxInput{
		Name:        "Gmail - " + username,
		Kind:        models.MailboxKindGmail,
		MailboxKind: kind,
		Config:      map[string]string{"username": username, "password": password},
	}
}

// NewOutlookPreset builds the registration for an Outlook / Office 365 account
func NewOutlookPreset(username, password string, kind models.MailboxKind) RegisterMailboxInput {
	return RegisterMailboxInput{
		Name:        "Outlook - " + username,
		Kind:        models.MailboxKindOutlook,
		MailboxKind: kind,
		Config:      map[string]string{"username": username, "password": password},
	}
}

// NewIMAPPreset builds the registration for a generic IMAP account. SMTP is
// configured only when smtpHost is set; a zero port takes the default.
func NewIMAPPreset(server string, port int, username, password, smtpHost string, smtpPort int, kind models.MailboxKind) RegisterMailboxInput {
	cfg := map[string]string{
		"host":     server,
		"username": username,
		"password": password,
	}
	if port > 0 {
		cfg["port"] = strconv.Itoa(port)
	}
	if smtpHost != "" {
		cfg["smtp_host"] = smtpHost
		if smtpPort > 0 {
			cfg["smtp_port"] = strconv.Itoa(smtpPort)
		}
	}
	return RegisterMailboxInput{
		Name:        "IMAP - " + username,
		Kind:        models.MailboxKindIMAP,
		MailboxKind: kind,
		Config:      cfg,
	}
}

// IsProviderConfigError reports whether err is a provider validation failure
func IsProviderConfigError(err error) bool {
	return errors.Is(err, ErrInvalidProviderConfig)
}
