package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StringList is stored as a JSON-encoded text column so that membership
// filters can match on the quoted element (`col LIKE '%"value"%'`) without a
// join table.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("error serializing string list: %w", err)
	}
	return string(data), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}

func (l StringList) Contains(value string) bool {
	for _, item := range l {
		if item == value {
			return true
		}
	}
	return false
}

// JSONMap holds one of the opaque layer configuration blobs. The contents are
// passed through unmodified; a nil map is stored as SQL NULL so that presence
// filters can check `col IS NOT NULL`.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, fmt.Errorf("error serializing json column: %w", err)
	}
	return string(data), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
}

type Layer struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:200;not null"`
	Slug string `gorm:"size:225;not null;uniqueIndex"`

	Dataset string `gorm:"size:100;not null;index"`

	Description string

	Application StringList `gorm:"type:text;not null"`
	Iso         StringList `gorm:"type:text"`

	Provider string `gorm:"size:100"`
	Type     string `gorm:"size:100"`

	UserId string `gorm:"size:100;not null;index"`

	Default   bool `gorm:"not null;default:false"`
	Protected bool `gorm:"not null;default:false"`
	Published bool `gorm:"not null;default:true"`

	Env string `gorm:"size:100;not null;default:'production'"`

	LayerConfig       JSONMap `gorm:"type:text"`
	LegendConfig      JSONMap `gorm:"type:text"`
	ApplicationConfig JSONMap `gorm:"type:text"`
	InteractionConfig JSONMap `gorm:"type:text"`
	StaticImageConfig JSONMap `gorm:"type:text"`

	ThumbnailUrl string

	// Denormalized copies of the owning user's role/name. Only populated
	// transiently to support sorting by user attributes, blank otherwise,
	// and never part of the public representation.
	UserRole string `gorm:"size:100"`
	UserName string `gorm:"size:200"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FieldKind classifies a layer attribute for filter coercion.
type FieldKind int

const (
	StringField FieldKind = iota
	ListField
	BlobField
	BoolField
	DateField
)

type FieldSpec struct {
	Column string
	Kind   FieldKind
}

// Fields maps every filterable/sortable attribute name (as it appears in
// requests) to its column and kind. userRole/userName are deliberately
// absent: they are sort-support columns, not attributes.
var Fields = map[string]FieldSpec{
	"name":              {Column: "name", Kind: StringField},
	"slug":              {Column: "slug", Kind: StringField},
	"dataset":           {Column: "dataset", Kind: StringField},
	"description":       {Column: "description", Kind: StringField},
	"application":       {Column: "application", Kind: ListField},
	"iso":               {Column: "iso", Kind: ListField},
	"provider":          {Column: "provider", Kind: StringField},
	"type":              {Column: "type", Kind: StringField},
	"userId":            {Column: "user_id", Kind: StringField},
	"default":           {Column: "\"default\"", Kind: BoolField},
	"protected":         {Column: "protected", Kind: BoolField},
	"published":         {Column: "published", Kind: BoolField},
	"env":               {Column: "env", Kind: StringField},
	"thumbnailUrl":      {Column: "thumbnail_url", Kind: StringField},
	"layerConfig":       {Column: "layer_config", Kind: BlobField},
	"legendConfig":      {Column: "legend_config", Kind: BlobField},
	"applicationConfig": {Column: "application_config", Kind: BlobField},
	"interactionConfig": {Column: "interaction_config", Kind: BlobField},
	"staticImageConfig": {Column: "static_image_config", Kind: BlobField},
}

// SortColumns additionally exposes the denormalized user sort columns, which
// are reachable only through the user.role/user.name virtual sort fields.
var SortColumns = map[string]string{
	"id":       "id",
	"userRole": "user_role",
	"userName": "user_name",
}

func SortColumn(field string) (string, bool) {
	if col, ok := SortColumns[field]; ok {
		return col, true
	}
	if spec, ok := Fields[field]; ok {
		return spec.Column, true
	}
	return "", false
}

func (l *Layer) AppsMatch(apps []string) bool {
	for _, app := range apps {
		if l.Application.Contains(app) {
			return true
		}
	}
	return false
}

func NormalizeEnv(env string) string {
	return strings.TrimSpace(strings.ToLower(env))
}
