package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type addItemResponse struct {
	Item domain.CartLineItem `json:"item"`
	Cart cart.Summary        `json:"cart"`
}

// cartKey выбирает ключ корзины: пользователь, затем заголовок или cookie сессии.
// Без них выдаётся новая анонимная сессия.
func (s *Server) cartKey(w http.ResponseWriter, r *http.Request) string {
	if identity, ok := identityFromContext(r.Context()); ok {
		return identity.UserID
	}
	if session := r.Header.Get(headerCartSession); session != "" {
		return session
	}
	if cookie, err := r.Cookie(cookieCartSession); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	session := "anon-" + uuid.NewString()
	w.Header().Set(headerCartSession, session)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieCartSession,
		Value:    session,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return session
}

func (s *Server) loadCart(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	store, err := s.carts.Get(r.Context(), s.cartKey(w, r))
	if err != nil {
		respondError(w, r, s.logger, err)
		return nil, false
	}
	return store, true
}

// mutateCart применяет fn к свежей копии корзины под её блокировкой
// и отвечает снимком, снятым до снятия блокировки.
func (s *Server) mutateCart(w http.ResponseWriter, r *http.Request, fn func(*cart.Store) error) (cart.Summary, bool) {
	var summary cart.Summary
	_, err := s.carts.Mutate(r.Context(), s.cartKey(w, r), func(store *cart.Store) error {
		if err := fn(store); err != nil {
			return err
		}
		summary = store.Summary()
		return nil
	})
	if err != nil {
		respondError(w, r, s.logger, err)
		return cart.Summary{}, false
	}
	return summary, true
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadCart(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, store.Summary())
}

func (s *Server) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var item domain.CartLineItem
	if err := decodeJSON(w, r, &item); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	if item.ProductID == "" || item.Price.IsNegative() || item.Quantity < domain.MinLineQuantity {
		respondError(w, r, s.logger, domain.ErrInvalidArgument)
		return
	}

	var line domain.CartLineItem
	summary, ok := s.mutateCart(w, r, func(store *cart.Store) error {
		line = store.AddItem(item)
		return nil
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusCreated, addItemResponse{Item: line, Cart: summary})
}

func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	summary, ok := s.mutateCart(w, r, func(store *cart.Store) error {
		return store.UpdateQuantity(chi.URLParam(r, "id"), req.Quantity)
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.mutateCart(w, r, func(store *cart.Store) error {
		store.RemoveItem(chi.URLParam(r, "id"))
		return nil
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.mutateCart(w, r, func(store *cart.Store) error {
		store.ClearCart()
		return nil
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
