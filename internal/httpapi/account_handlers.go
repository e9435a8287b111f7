package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/account"
)

// addressRequest принимает адрес строкой или по полям формы checkout.
type addressRequest struct {
	Address    string `json:"address"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (req addressRequest) structured() checkout.Address {
	return checkout.Address{
		Line1:      req.Line1,
		Line2:      req.Line2,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
	}
}

type ordersResponse struct {
	Orders  []orderResponse `json:"orders"`
	Total   int             `json:"total"`
	HasMore bool            `json:"hasMore"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	user, err := s.account.Sync(identity)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	user, err := s.account.Profile(identity.UserID)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	var in account.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	user, err := s.account.UpdateProfile(identity.UserID, in)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleUpdateAddress(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	var req addressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	address := strings.TrimSpace(req.Address)
	if address == "" && req.Line1 != "" {
		structured := req.structured()
		if err := structured.Validate(); err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		address = structured.Compose()
	}

	user, err := s.account.UpdateAddress(identity.UserID, address)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	filter, err := parseOrderFilter(r)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	page, err := s.account.ListOrders(identity.UserID, filter)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, ordersResponse{
		Orders:  mapSlice(page.Orders, toOrderResponse),
		Total:   page.Total,
		HasMore: page.HasMore,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	details, err := s.account.GetOrder(identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	resp := toOrderResponse(details.Order)
	resp.Timeline = mapSlice(details.Timeline, func(event domain.TimelineEvent) timelineResponse {
		return timelineResponse{Type: event.Type, Reason: event.Reason, Occurred: event.Occurred}
	})
	respondJSON(w, http.StatusOK, resp)
}

func parseOrderFilter(r *http.Request) (domain.OrderListFilter, error) {
	query := r.URL.Query()
	filter := domain.OrderListFilter{Status: domain.OrderStatus(query.Get("status"))}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return domain.OrderListFilter{}, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidArgument, name)
		}
		*dst = value
	}
	return filter, nil
}
