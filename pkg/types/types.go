package types

import (
	"time"
)

type AssetType string

const (
	AssetTypeDomain    AssetType = "DOMAIN"
	AssetTypeSubdomain AssetType = "SUBDOMAIN"
	AssetTypeIP        AssetType = "IP"
	AssetTypeWebapp    AssetType = "WEBAPP"
	AssetTypeWebappAPI AssetType = "WEBAPP_API"
	AssetTypeService   AssetType = "SERVICE"

	// AssetTypeUnknown marks a host string that could not be classified.
	AssetTypeUnknown AssetType = "UNKNOWN"
)

// ServiceSubType identifies the cloud resource kind behind a SERVICE asset.
type ServiceSubType string

const (
	ServiceSubTypeInstance      ServiceSubType = "COMPUTE_INSTANCE"
	ServiceSubTypeSecurityGroup ServiceSubType = "SECURITY_GROUP"
	ServiceSubTypeLoadBalancer  ServiceSubType = "LOAD_BALANCER"
	ServiceSubTypeDatabase      ServiceSubType = "DATABASE"
	ServiceSubTypeDNSRecord     ServiceSubType = "DNS_RECORD"
	ServiceSubTypeBucket        ServiceSubType = "STORAGE_BUCKET"
	ServiceSubTypeAPIGateway    ServiceSubType = "API_GATEWAY"
)

// Asset is one unit of attack surface. The natural key used for deduplication
// depends on Type: DOMAIN and SUBDOMAIN use Name, IP uses Name (the address),
// WEBAPP uses (parent asset id, Port), WEBAPP_API uses (WebappID, Name),
// SERVICE uses (SubType, CloudKey).
type Asset struct {
	ID       string         `json:"id" db:"id"`
	Type     AssetType      `json:"type" db:"type"`
	SubType  ServiceSubType `json:"sub_type,omitempty" db:"sub_type"`
	Name     string         `json:"name" db:"name"`
	Port     int            `json:"port,omitempty" db:"port"`
	Scheme   string         `json:"scheme,omitempty" db:"scheme"`
	CloudKey string         `json:"cloud_key,omitempty" db:"cloud_key"`
	Region   string         `json:"region,omitempty" db:"region"`
	Metadata Metadata       `json:"metadata,omitempty" db:"metadata"`

	// Structural links. A WEBAPP references exactly one of DomainID,
	// SubdomainID or IPID; a WEBAPP_API references WebappID.
	DomainID    *string `json:"domain_id,omitempty" db:"domain_id"`
	SubdomainID *string `json:"subdomain_id,omitempty" db:"subdomain_id"`
	IPID        *string `json:"ip_id,omitempty" db:"ip_id"`
	WebappID    *string `json:"webapp_id,omitempty" db:"webapp_id"`

	AddedBy   string    `json:"added_by" db:"added_by"`
	UpdatedBy string    `json:"updated_by" db:"updated_by"`
	Deleted   bool      `json:"deleted" db:"deleted"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Metadata is a free-form JSON column.
type Metadata map[string]interface{}

type SourceType string

const (
	SourceTypeAWS    SourceType = "AWS"
	SourceTypeGCP    SourceType = "GCP"
	SourceTypeAzure  SourceType = "AZURE"
	SourceTypeGithub SourceType = "GITHUB"
	SourceTypeGitlab SourceType = "GITLAB"
	SourceTypeManual SourceType = "MANUAL"
)

// Cloud reports whether sources of this type are enumerated through a cloud
// provider API rather than the generic network-discovery path.
func (t SourceType) Cloud() bool {
	switch t {
	case SourceTypeAWS, SourceTypeGCP, SourceTypeAzure:
		return true
	}
	return false
}

// Credentials is a tagged union over provider credential variants. Exactly one
// variant is populated, selected by Provider.
type Credentials struct {
	Provider SourceType        `json:"provider"`
	AWS      *AWSCredentials   `json:"aws,omitempty"`
	GCP      *GCPCredentials   `json:"gcp,omitempty"`
	Azure    *AzureCredentials `json:"azure,omitempty"`
	Token    *TokenCredentials `json:"token,omitempty"`
}

type AWSCredentials struct {
	AccessKeyID     string   `json:"access_key_id"`
	SecretAccessKey string   `json:"secret_access_key"`
	SessionToken    string   `json:"session_token,omitempty"`
	Regions         []string `json:"regions,omitempty"`
}

type GCPCredentials struct {
	ProjectID          string `json:"project_id"`
	ServiceAccountJSON string `json:"service_account_json"`
}

type AzureCredentials struct {
	TenantID       string `json:"tenant_id"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	SubscriptionID string `json:"subscription_id"`
}

// TokenCredentials covers VCS-style sources (GitHub, GitLab).
type TokenCredentials struct {
	Token   string `json:"token"`
	BaseURL string `json:"base_url,omitempty"`
}

// Validate checks that the variant matching Provider is populated.
func (c Credentials) Validate() error {
	switch c.Provider {
	case SourceTypeAWS:
		if c.AWS == nil || c.AWS.AccessKeyID == "" || c.AWS.SecretAccessKey == "" {
			return NewValidationError("aws credentials require access_key_id and secret_access_key")
		}
	case SourceTypeGCP:
		if c.GCP == nil || c.GCP.ProjectID == "" {
			return NewValidationError("gcp credentials require project_id")
		}
	case SourceTypeAzure:
		if c.Azure == nil || c.Azure.SubscriptionID == "" {
			return NewValidationError("azure credentials require subscription_id")
		}
	case SourceTypeGithub, SourceTypeGitlab:
		if c.Token == nil || c.Token.Token == "" {
			return NewValidationError("token credentials require a token")
		}
	case SourceTypeManual:
		// no credentials
	default:
		return NewValidationError("unsupported source provider: " + string(c.Provider))
	}
	return nil
}

type Source struct {
	ID          string      `json:"id" db:"id"`
	ExternalID  string      `json:"external_id" db:"external_id"`
	Name        string      `json:"name" db:"name"`
	Type        SourceType  `json:"type" db:"type"`
	Credentials Credentials `json:"credentials" db:"credentials"`
	Active      bool        `json:"active" db:"active"`
	Deleted     bool        `json:"deleted" db:"deleted"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

type ScanStatus string

const (
	ScanStatusPending     ScanStatus = "PENDING"
	ScanStatusSentToQueue ScanStatus = "SENT_TO_QUEUE"
	ScanStatusInProgress  ScanStatus = "IN_PROGRESS"
	ScanStatusCompleted   ScanStatus = "COMPLETED"
	ScanStatusFailed      ScanStatus = "FAILED"
)

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Terminal states admit no successor.
func (s ScanStatus) CanTransition(next ScanStatus) bool {
	switch s {
	case ScanStatusPending:
		return next == ScanStatusSentToQueue || next == ScanStatusInProgress
	case ScanStatusInProgress:
		return next == ScanStatusCompleted || next == ScanStatusFailed
	}
	return false
}

// Terminal reports whether no further transition is legal from s.
func (s ScanStatus) Terminal() bool {
	switch s {
	case ScanStatusSentToQueue, ScanStatusCompleted, ScanStatusFailed:
		return true
	}
	return false
}

type ScanType string

const (
	ScanTypeAsset         ScanType = "ASSET_SCAN"
	ScanTypeWebappAsset   ScanType = "WEBAPP_ASSET_SCAN"
	ScanTypeVulnerability ScanType = "VULNERABILITY_SCAN"
)

// TriggerCause records why a scan was dispatched.
type TriggerCause string

const (
	TriggerScheduled     TriggerCause = "SCHEDULED"
	TriggerManual        TriggerCause = "MANUAL"
	TriggerAssetAdded    TriggerCause = "ASSET_ADDED"
	TriggerAssetUpdated  TriggerCause = "ASSET_UPDATED"
	TriggerSourceAdded   TriggerCause = "SOURCE_ADDED"
	TriggerSourceUpdated TriggerCause = "SOURCE_UPDATED"
)

// Update reports whether the cause represents a re-discovery of an existing
// entity, which selects the ".updated" topic suffix.
func (c TriggerCause) Update() bool {
	return c == TriggerAssetUpdated || c == TriggerSourceUpdated
}

// AssetScan is one execution record of the discovery pipeline.
type AssetScan struct {
	ID            string       `json:"id" db:"id"`
	Status        ScanStatus   `json:"status" db:"status"`
	Type          ScanType     `json:"type" db:"type"`
	Cause         TriggerCause `json:"cause" db:"cause"`
	ScheduleRunID *string      `json:"schedule_run_id,omitempty" db:"schedule_run_id"`
	SourceID      *string      `json:"source_id,omitempty" db:"source_id"`
	AssetCount    int          `json:"asset_count" db:"asset_count"`
	SourceCount   int          `json:"source_count" db:"source_count"`
	Error         string       `json:"error,omitempty" db:"error"`
	StartedAt     *time.Time   `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

type Schedule struct {
	ID              string    `json:"id" db:"id"`
	Type            ScanType  `json:"type" db:"type"`
	IntervalSeconds int       `json:"interval_seconds" db:"interval_seconds"`
	AssetIDs        []string  `json:"asset_ids,omitempty" db:"-"`
	SourceIDs       []string  `json:"source_ids,omitempty" db:"-"`
	Profiles        []string  `json:"profiles,omitempty" db:"-"`
	Active          bool      `json:"active" db:"active"`
	Deleted         bool      `json:"deleted" db:"deleted"`
	CreatedBy       string    `json:"created_by" db:"created_by"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

type ScheduleRun struct {
	ID           string     `json:"id" db:"id"`
	ScheduleID   *string    `json:"schedule_id,omitempty" db:"schedule_id"`
	Status       ScanStatus `json:"status" db:"status"`
	SuccessCount int        `json:"success_count" db:"success_count"`
	FailedCount  int        `json:"failed_count" db:"failed_count"`
	Details      Metadata   `json:"details,omitempty" db:"details"`
	CreatedBy    string     `json:"created_by" db:"created_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// AssetSource links an asset to the source it was discovered from.
type AssetSource struct {
	ID        string    `json:"id" db:"id"`
	AssetID   string    `json:"asset_id" db:"asset_id"`
	SourceID  string    `json:"source_id" db:"source_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AssetLinkKind string

const (
	AssetLinkSecurityGroup AssetLinkKind = "SECURITY_GROUP"
	AssetLinkWebapp        AssetLinkKind = "WEBAPP"
)

// AssetLink is an additive join row between a compute-instance SERVICE asset
// and an attached security group or derived webapp. Rediscovery never removes
// existing links.
type AssetLink struct {
	ID        string        `json:"id" db:"id"`
	FromID    string        `json:"from_id" db:"from_id"`
	ToID      string        `json:"to_id" db:"to_id"`
	Kind      AssetLinkKind `json:"kind" db:"kind"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// CloudResource is one resource descriptor returned by provider enumeration.
// Key is the provider-specific unique identifier (ARN, self-link, resource
// id) and becomes the SERVICE asset's cloud key.
type CloudResource struct {
	Kind           ServiceSubType  `json:"kind"`
	Key            string          `json:"key"`
	Name           string          `json:"name"`
	Provider       SourceType      `json:"provider"`
	Region         string          `json:"region,omitempty"`
	DNSNames       []string        `json:"dns_names,omitempty"`
	PublicIPs      []string        `json:"public_ips,omitempty"`
	IngressPorts   []int           `json:"ingress_ports,omitempty"`
	SecurityGroups []CloudResource `json:"security_groups,omitempty"`
	Metadata       Metadata        `json:"metadata,omitempty"`
}

// Screenshot stores a webapp capture.
type Screenshot struct {
	ID        string    `json:"id" db:"id"`
	WebappID  string    `json:"webapp_id" db:"webapp_id"`
	ScanID    string    `json:"scan_id" db:"scan_id"`
	Data      []byte    `json:"-" db:"data"`
	URL       string    `json:"url" db:"url"`
	Width     int       `json:"width" db:"width"`
	Height    int       `json:"height" db:"height"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
