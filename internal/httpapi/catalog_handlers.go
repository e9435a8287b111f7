package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	s.listProducts(w, r, false)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request, includeArchived bool) {
	query := r.URL.Query()
	featured, _ := strconv.ParseBool(query.Get("featured"))

	products, err := s.catalog.ListProducts(domain.ProductFilter{
		BrandSlug:       query.Get("brand"),
		CategorySlug:    query.Get("category"),
		FeaturedOnly:    featured,
		IncludeArchived: includeArchived,
	})
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, mapSlice(products, toProductResponse))
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	s.getProduct(w, r, false)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request, includeArchived bool) {
	product, err := s.catalog.GetProduct(chi.URLParam(r, "id"), includeArchived)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) handleListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := s.catalog.ListBrands()
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, mapSlice(brands, toBrandResponse))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.catalog.ListCategories()
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, mapSlice(categories, toCategoryResponse))
}

func (s *Server) mountAdmin(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) { s.listProducts(w, r, true) })
		r.Post("/", adminCreate(s, s.catalog.CreateProduct, toProductResponse))
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) { s.getProduct(w, r, true) })
		r.Put("/{id}", adminUpdate(s, s.catalog.UpdateProduct, toProductResponse))
		r.Patch("/{id}", adminUpdate(s, s.catalog.UpdateProduct, toProductResponse))
		r.Delete("/{id}", adminDelete(s, s.catalog.DeleteProduct))
	})
	r.Route("/brands", func(r chi.Router) {
		r.Get("/", s.handleListBrands)
		r.Post("/", adminCreate(s, s.catalog.CreateBrand, toBrandResponse))
		r.Put("/{id}", adminUpdate(s, s.catalog.UpdateBrand, toBrandResponse))
		r.Patch("/{id}", adminUpdate(s, s.catalog.UpdateBrand, toBrandResponse))
		r.Delete("/{id}", adminDelete(s, s.catalog.DeleteBrand))
	})
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", s.handleListCategories)
		r.Post("/", adminCreate(s, s.catalog.CreateCategory, toCategoryResponse))
		r.Put("/{id}", adminUpdate(s, s.catalog.UpdateCategory, toCategoryResponse))
		r.Patch("/{id}", adminUpdate(s, s.catalog.UpdateCategory, toCategoryResponse))
		r.Delete("/{id}", adminDelete(s, s.catalog.DeleteCategory))
	})
	r.Route("/sizes", func(r chi.Router) {
		r.Get("/", adminList(s, s.catalog.ListSizes, toSizeResponse))
		r.Post("/", adminCreate(s, s.catalog.CreateSize, toSizeResponse))
		r.Put("/{id}", adminUpdate(s, s.catalog.UpdateSize, toSizeResponse))
		r.Patch("/{id}", adminUpdate(s, s.catalog.UpdateSize, toSizeResponse))
		r.Delete("/{id}", adminDelete(s, s.catalog.DeleteSize))
	})
	r.Route("/colors", func(r chi.Router) {
		r.Get("/", adminList(s, s.catalog.ListColors, toColorResponse))
		r.Post("/", adminCreate(s, s.catalog.CreateColor, toColorResponse))
		r.Put("/{id}", adminUpdate(s, s.catalog.UpdateColor, toColorResponse))
		r.Patch("/{id}", adminUpdate(s, s.catalog.UpdateColor, toColorResponse))
		r.Delete("/{id}", adminDelete(s, s.catalog.DeleteColor))
	})
}

func adminList[T, R any](s *Server, list func() ([]T, error), convert func(T) R) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list()
		if err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		respondJSON(w, http.StatusOK, mapSlice(items, convert))
	}
}

func adminCreate[In, T, R any](s *Server, create func(In) (T, error), convert func(T) R) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := decodeJSON(w, r, &in); err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		created, err := create(in)
		if err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		respondJSON(w, http.StatusCreated, convert(created))
	}
}

func adminUpdate[In, T, R any](s *Server, update func(string, In) (T, error), convert func(T) R) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := decodeJSON(w, r, &in); err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		updated, err := update(chi.URLParam(r, "id"), in)
		if err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		respondJSON(w, http.StatusOK, convert(updated))
	}
}

func adminDelete(s *Server, remove func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := remove(chi.URLParam(r, "id")); err != nil {
			respondError(w, r, s.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
