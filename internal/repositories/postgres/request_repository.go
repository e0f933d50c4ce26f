package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/platform/pagination"
	"github.com/watchfix/api/internal/repositories"
)

var requestColumns = []string{
	"id", "shop_id", "customer_id", "delivery_person_id", "status", "description", "address_manual",
	"gps_lat", "gps_lon", "quote_min", "quote_max", "quote_note", "quote_voice_s3_key",
	"scheduled_pickup_at", "created_at", "updated_at",
}

const partyColumns = `c.name, c.phone, c.email, c.default_address, s.name, s.address, d.name, d.phone`

const partyJoins = `
	LEFT JOIN customers c ON c.id = sr.customer_id
	LEFT JOIN shops s ON s.id = sr.shop_id
	LEFT JOIN delivery_personnel d ON d.id = sr.delivery_person_id`

// ServiceRequestRepository persists service requests in PostgreSQL.
type ServiceRequestRepository struct {
	db *sql.DB
}

var _ repositories.ServiceRequestRepository = (*ServiceRequestRepository)(nil)

// NewServiceRequestRepository constructs the repository.
func NewServiceRequestRepository(db *sql.DB) (*ServiceRequestRepository, error) {
	if db == nil {
		return nil, errors.New("service request repository requires a database")
	}
	return &ServiceRequestRepository{db: db}, nil
}

// Insert stores a new request and returns it with its id and timestamps.
func (r *ServiceRequestRepository) Insert(ctx context.Context, request domain.ServiceRequest) (domain.ServiceRequest, error) {
	if r == nil || r.db == nil {
		return domain.ServiceRequest{}, errors.New("service request repository not initialised")
	}
	now := nowOr(request.CreatedAt)
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO service_requests (shop_id, customer_id, delivery_person_id, status, description,
			address_manual, gps_lat, gps_lon, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+columns("", requestColumns),
		request.ShopID, request.CustomerID, nullable(request.DeliveryPersonID), string(request.Status),
		nullable(request.Description), request.AddressManual, nullable(request.GPSLat), nullable(request.GPSLon), now,
	)
	saved, err := scanRequest(row)
	if err != nil {
		return domain.ServiceRequest{}, database.WrapError("service_requests.insert", err)
	}
	return saved, nil
}

// FindByID loads a request.
func (r *ServiceRequestRepository) FindByID(ctx context.Context, id int64) (domain.ServiceRequest, error) {
	if r == nil || r.db == nil {
		return domain.ServiceRequest{}, errors.New("service request repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+columns("", requestColumns)+` FROM service_requests WHERE id = $1`, id)
	request, err := scanRequest(row)
	if err != nil {
		return domain.ServiceRequest{}, database.WrapError("service_requests.find", err)
	}
	return request, nil
}

// FindParties loads the customer, shop and delivery person display data of a request.
func (r *ServiceRequestRepository) FindParties(ctx context.Context, id int64) (domain.RequestParties, error) {
	if r == nil || r.db == nil {
		return domain.RequestParties{}, errors.New("service request repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+partyColumns+` FROM service_requests sr`+partyJoins+` WHERE sr.id = $1`, id)
	parties, err := scanParties(row)
	if err != nil {
		return domain.RequestParties{}, database.WrapError("service_requests.parties", err)
	}
	return parties, nil
}

// Update applies the non-nil fields of update and returns the stored row.
func (r *ServiceRequestRepository) Update(ctx context.Context, id int64, update repositories.RequestUpdate) (domain.ServiceRequest, error) {
	if r == nil || r.db == nil {
		return domain.ServiceRequest{}, errors.New("service request repository not initialised")
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Status != nil {
		set("status", string(*update.Status))
	}
	if q := update.Quote; q != nil {
		set("quote_min", q.Min)
		set("quote_max", q.Max)
		set("quote_note", nullable(q.Note))
		set("quote_voice_s3_key", nullable(q.VoiceKey))
	}
	if update.ScheduledPickupAt != nil {
		set("scheduled_pickup_at", update.ScheduledPickupAt.UTC())
	}
	if update.DeliveryPersonID != nil {
		set("delivery_person_id", *update.DeliveryPersonID)
	}
	set("updated_at", nowOr(update.UpdatedAt))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE service_requests SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), columns("", requestColumns))
	saved, err := scanRequest(database.Conn(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.ServiceRequest{}, database.WrapError("service_requests.update", err)
	}
	return saved, nil
}

// ListByCustomer returns the customer's requests newest first with item and media counts.
func (r *ServiceRequestRepository) ListByCustomer(ctx context.Context, customerID int64) ([]domain.RequestSummary, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("service request repository not initialised")
	}
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+columns("sr", requestColumns)+`,
			(SELECT COUNT(*) FROM service_items si WHERE si.request_id = sr.id),
			(SELECT COUNT(*) FROM media m WHERE m.request_id = sr.id)
		FROM service_requests sr
		WHERE sr.customer_id = $1
		ORDER BY sr.created_at DESC, sr.id DESC`, customerID)
	if err != nil {
		return nil, database.WrapError("service_requests.list_customer", err)
	}
	defer rows.Close()

	var summaries []domain.RequestSummary
	for rows.Next() {
		var summary domain.RequestSummary
		request, err := scanRequest(rows, &summary.ItemsCount, &summary.MediaCount)
		if err != nil {
			return nil, database.WrapError("service_requests.list_customer", err)
		}
		summary.ServiceRequest = request
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError("service_requests.list_customer", err)
	}
	return summaries, nil
}

// ListForAdmin returns one page of requests, newest first, with the total matching count.
func (r *ServiceRequestRepository) ListForAdmin(ctx context.Context, filter repositories.AdminRequestFilter) (domain.Page[domain.AdminRequestSummary], error) {
	if r == nil || r.db == nil {
		return domain.Page[domain.AdminRequestSummary]{}, errors.New("service request repository not initialised")
	}
	page := pagination.Normalize(filter.Page, filter.Limit, pagination.Options{})

	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("sr.status = $%d", len(args)))
	}
	if filter.ShopID != nil {
		args = append(args, *filter.ShopID)
		where = append(where, fmt.Sprintf("sr.shop_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	conn := database.Conn(ctx, r.db)
	result := domain.Page[domain.AdminRequestSummary]{Page: page.Page, Limit: page.Limit}
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_requests sr`+clause, args...).Scan(&result.Total); err != nil {
		return domain.Page[domain.AdminRequestSummary]{}, database.WrapError("service_requests.count_admin", err)
	}

	pageArgs := append(append([]any(nil), args...), page.Limit, page.Offset())
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, %s, (SELECT COUNT(*) FROM service_items si WHERE si.request_id = sr.id)
		FROM service_requests sr%s%s
		ORDER BY sr.created_at DESC, sr.id DESC
		LIMIT $%d OFFSET $%d`,
		columns("sr", requestColumns), partyColumns, partyJoins, clause, len(args)+1, len(args)+2),
		pageArgs...)
	if err != nil {
		return domain.Page[domain.AdminRequestSummary]{}, database.WrapError("service_requests.list_admin", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			summary domain.AdminRequestSummary
			parties partyScan
		)
		dest := append(parties.dest(), &summary.ItemsCount)
		request, err := scanRequest(rows, dest...)
		if err != nil {
			return domain.Page[domain.AdminRequestSummary]{}, database.WrapError("service_requests.list_admin", err)
		}
		summary.ServiceRequest = request
		summary.Parties = parties.toDomain()
		result.Items = append(result.Items, summary)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.AdminRequestSummary]{}, database.WrapError("service_requests.list_admin", err)
	}
	return result, nil
}

// ListAssignments returns requests assigned to the delivery person in one of the statuses,
// earliest pickup first.
func (r *ServiceRequestRepository) ListAssignments(ctx context.Context, deliveryPersonID int64, statuses []domain.RequestStatus) ([]domain.Assignment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("service request repository not initialised")
	}
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+columns("sr", requestColumns)+`, `+partyColumns+`
		FROM service_requests sr`+partyJoins+`
		WHERE sr.delivery_person_id = $1 AND sr.status = ANY($2)
		ORDER BY sr.scheduled_pickup_at ASC NULLS LAST, sr.created_at DESC`,
		deliveryPersonID, pq.Array(values))
	if err != nil {
		return nil, database.WrapError("service_requests.list_assignments", err)
	}
	defer rows.Close()

	var assignments []domain.Assignment
	for rows.Next() {
		var parties partyScan
		request, err := scanRequest(rows, parties.dest()...)
		if err != nil {
			return nil, database.WrapError("service_requests.list_assignments", err)
		}
		assignments = append(assignments, domain.Assignment{ServiceRequest: request, Parties: parties.toDomain()})
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError("service_requests.list_assignments", err)
	}
	return assignments, nil
}

func scanRequest(row scanner, extra ...any) (domain.ServiceRequest, error) {
	var (
		request          domain.ServiceRequest
		status           string
		deliveryPersonID sql.NullInt64
		description      sql.NullString
		gpsLat, gpsLon   sql.NullFloat64
		quoteMin         sql.NullInt64
		quoteMax         sql.NullInt64
		quoteNote        sql.NullString
		quoteVoiceKey    sql.NullString
		scheduledPickup  sql.NullTime
	)
	dest := []any{
		&request.ID, &request.ShopID, &request.CustomerID, &deliveryPersonID, &status, &description,
		&request.AddressManual, &gpsLat, &gpsLon, &quoteMin, &quoteMax, &quoteNote, &quoteVoiceKey,
		&scheduledPickup, &request.CreatedAt, &request.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.ServiceRequest{}, err
	}

	parsed, ok := domain.ParseRequestStatus(status)
	if !ok {
		return domain.ServiceRequest{}, fmt.Errorf("unknown request status %q on request %d", status, request.ID)
	}
	request.Status = parsed
	request.DeliveryPersonID = int64Ptr(deliveryPersonID)
	request.Description = stringPtr(description)
	request.GPSLat = float64Ptr(gpsLat)
	request.GPSLon = float64Ptr(gpsLon)
	request.QuoteMin = int64Ptr(quoteMin)
	request.QuoteMax = int64Ptr(quoteMax)
	request.QuoteNote = stringPtr(quoteNote)
	request.QuoteVoiceKey = stringPtr(quoteVoiceKey)
	request.ScheduledPickupAt = timePtr(scheduledPickup)
	request.CreatedAt = request.CreatedAt.UTC()
	request.UpdatedAt = request.UpdatedAt.UTC()
	return request, nil
}

type partyScan struct {
	customerName, customerPhone, customerEmail, customerAddress sql.NullString
	shopName, shopAddress                                       sql.NullString
	deliveryName, deliveryPhone                                 sql.NullString
}

func (p *partyScan) dest() []any {
	return []any{
		&p.customerName, &p.customerPhone, &p.customerEmail, &p.customerAddress,
		&p.shopName, &p.shopAddress, &p.deliveryName, &p.deliveryPhone,
	}
}

func (p *partyScan) toDomain() domain.RequestParties {
	return domain.RequestParties{
		CustomerName:           stringPtr(p.customerName),
		CustomerPhone:          stringPtr(p.customerPhone),
		CustomerEmail:          stringPtr(p.customerEmail),
		CustomerDefaultAddress: stringPtr(p.customerAddress),
		ShopName:               stringPtr(p.shopName),
		ShopAddress:            stringPtr(p.shopAddress),
		DeliveryPersonName:     stringPtr(p.deliveryName),
		DeliveryPersonPhone:    stringPtr(p.deliveryPhone),
	}
}

func scanParties(row scanner) (domain.RequestParties, error) {
	var p partyScan
	if err := row.Scan(p.dest()...); err != nil {
		return domain.RequestParties{}, err
	}
	return p.toDomain(), nil
}
