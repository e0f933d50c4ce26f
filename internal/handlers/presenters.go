package handlers

import (
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/services"
)

type requestView struct {
	ID                int64      `json:"id"`
	ShopID            int64      `json:"shop_id"`
	CustomerID        int64      `json:"customer_id"`
	DeliveryPersonID  *int64     `json:"delivery_person_id"`
	Status            string     `json:"status"`
	Description       *string    `json:"description"`
	AddressManual     string     `json:"address_manual"`
	GPSLat            *float64   `json:"gps_lat"`
	GPSLon            *float64   `json:"gps_lon"`
	QuoteMin          *int64     `json:"quote_min"`
	QuoteMax          *int64     `json:"quote_max"`
	QuoteNote         *string    `json:"quote_note"`
	QuoteVoiceKey     *string    `json:"quote_voice_s3_key"`
	ScheduledPickupAt *time.Time `json:"scheduled_pickup_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func buildRequestView(r domain.ServiceRequest) requestView {
	return requestView{
		ID:                r.ID,
		ShopID:            r.ShopID,
		CustomerID:        r.CustomerID,
		DeliveryPersonID:  r.DeliveryPersonID,
		Status:            string(r.Status),
		Description:       r.Description,
		AddressManual:     r.AddressManual,
		GPSLat:            r.GPSLat,
		GPSLon:            r.GPSLon,
		QuoteMin:          r.QuoteMin,
		QuoteMax:          r.QuoteMax,
		QuoteNote:         r.QuoteNote,
		QuoteVoiceKey:     r.QuoteVoiceKey,
		ScheduledPickupAt: r.ScheduledPickupAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type partiesView struct {
	CustomerName           *string `json:"customer_name,omitempty"`
	CustomerPhone          *string `json:"customer_phone,omitempty"`
	CustomerEmail          *string `json:"customer_email,omitempty"`
	CustomerDefaultAddress *string `json:"customer_default_address,omitempty"`
	ShopName               *string `json:"shop_name,omitempty"`
	ShopAddress            *string `json:"shop_address,omitempty"`
	DeliveryPersonName     *string `json:"delivery_person_name,omitempty"`
	DeliveryPersonPhone    *string `json:"delivery_person_phone,omitempty"`
}

func buildPartiesView(p domain.RequestParties) partiesView {
	return partiesView(p)
}

type requestSummaryView struct {
	requestView
	ItemsCount int `json:"items_count"`
	MediaCount int `json:"media_count"`
}

type adminRequestSummaryView struct {
	requestView
	partiesView
	ItemsCount int `json:"items_count"`
}

type assignmentView struct {
	requestView
	partiesView
}

type itemView struct {
	ID                 int64     `json:"id"`
	RequestID          int64     `json:"request_id"`
	Category           string    `json:"category"`
	Title              *string   `json:"title"`
	ProblemDescription *string   `json:"problem_description"`
	CreatedAt          time.Time `json:"created_at"`
}

type mediaView struct {
	ID               int64      `json:"id"`
	RequestID        *int64     `json:"request_id"`
	UploaderType     string     `json:"uploader_type"`
	UploaderID       int64      `json:"uploader_id"`
	Type             string     `json:"type"`
	Key              string     `json:"s3_key"`
	OriginalFilename string     `json:"original_filename"`
	SizeBytes        int64      `json:"size_bytes"`
	DurationSeconds  *int       `json:"duration_seconds"`
	CreatedAt        time.Time  `json:"created_at"`
	URL              string     `json:"url,omitempty"`
	URLExpiresAt     *time.Time `json:"url_expires_at,omitempty"`
}

func buildMediaView(m domain.Media) mediaView {
	view := mediaView{
		ID:               m.ID,
		UploaderType:     string(m.UploaderType),
		UploaderID:       m.UploaderID,
		Type:             string(m.Type),
		Key:              m.Key,
		OriginalFilename: m.OriginalFilename,
		SizeBytes:        m.SizeBytes,
		DurationSeconds:  m.DurationSeconds,
		CreatedAt:        m.CreatedAt,
	}
	if id, ok := m.Binding.RequestID(); ok {
		view.RequestID = &id
	}
	return view
}

func buildSignedMediaViews(items []services.MediaView) []mediaView {
	out := make([]mediaView, 0, len(items))
	for _, item := range items {
		view := buildMediaView(item.Media)
		view.URL = item.URL
		if !item.URLExpiresAt.IsZero() {
			expires := item.URLExpiresAt
			view.URLExpiresAt = &expires
		}
		out = append(out, view)
	}
	return out
}

type requestDetailView struct {
	Request       requestView  `json:"request"`
	Items         []itemView   `json:"items"`
	Media         []mediaView  `json:"media"`
	QuoteVoiceURL *string      `json:"quote_voice_url,omitempty"`
	Parties       *partiesView `json:"parties,omitempty"`
}

func buildRequestDetailView(detail services.RequestDetail) requestDetailView {
	items := make([]itemView, 0, len(detail.Items))
	for _, item := range detail.Items {
		items = append(items, itemView{
			ID:                 item.ID,
			RequestID:          item.RequestID,
			Category:           string(item.Category),
			Title:              item.Title,
			ProblemDescription: item.ProblemDescription,
			CreatedAt:          item.CreatedAt,
		})
	}
	view := requestDetailView{
		Request:       buildRequestView(detail.Request),
		Items:         items,
		Media:         buildSignedMediaViews(detail.Media),
		QuoteVoiceURL: detail.QuoteVoiceURL,
	}
	if detail.Parties != nil {
		parties := buildPartiesView(*detail.Parties)
		view.Parties = &parties
	}
	return view
}

type customerView struct {
	ID             int64     `json:"id"`
	Phone          string    `json:"phone"`
	Name           *string   `json:"name"`
	Email          *string   `json:"email"`
	DefaultAddress *string   `json:"default_address"`
	Latitude       *float64  `json:"latitude"`
	Longitude      *float64  `json:"longitude"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func buildCustomerView(c domain.Customer) customerView {
	return customerView{
		ID:             c.ID,
		Phone:          c.Phone,
		Name:           c.Name,
		Email:          c.Email,
		DefaultAddress: c.DefaultAddress,
		Latitude:       c.Latitude,
		Longitude:      c.Longitude,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

type deliveryPersonView struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func buildDeliveryPersonView(p domain.DeliveryPerson) deliveryPersonView {
	return deliveryPersonView{
		ID:        p.ID,
		Phone:     p.Phone,
		Name:      p.Name,
		Active:    p.Active,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type adminView struct {
	ID    int64  `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

type shopView struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func buildShopView(s domain.Shop) shopView {
	return shopView{ID: s.ID, Name: s.Name, Address: s.Address, Phone: s.Phone, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}

type settingsView struct {
	Version              int64     `json:"version"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	MaxMediaBytes        int64     `json:"max_media_bytes"`
	MaxVideoDuration     int       `json:"max_video_duration"`
	MaxVoiceDuration     int       `json:"max_voice_duration"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func buildSettingsView(s domain.Settings) settingsView {
	return settingsView{
		Version:              s.Version,
		NotificationsEnabled: s.NotificationsEnabled,
		MaxMediaBytes:        s.MaxMediaBytes,
		MaxVideoDuration:     s.MaxVideoDuration,
		MaxVoiceDuration:     s.MaxVoiceDuration,
		UpdatedAt:            s.UpdatedAt,
	}
}
