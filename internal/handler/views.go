package handler

import (
	"time"

	"github.com/sakif/nearby/internal/geo"
	"github.com/sakif/nearby/internal/model"
)

// AccountView is the public shape of an account. The password hash never
// leaves the process.
type AccountView struct {
	ID               string            `json:"id"`
	Kind             model.Kind        `json:"kind"`
	Name             string            `json:"name"`
	Email            string            `json:"email,omitempty"`
	Coordinate       *model.Coordinate `json:"coordinate,omitempty"`
	Bio              string            `json:"bio"`
	Rating           float64           `json:"rating"`
	BusinessName     string            `json:"businessName,omitempty"`
	BusinessCategory string            `json:"businessCategory,omitempty"`
	ProfilePhoto     string            `json:"profilePhoto,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// newAccountView builds the public view. Email is only shown to the account
// itself.
func newAccountView(a *model.Account, self bool) AccountView {
	v := AccountView{
		ID:           a.ID,
		Kind:         a.Kind,
		Name:         a.Name,
		Coordinate:   a.Coordinate,
		Bio:          a.Bio,
		Rating:       a.Rating,
		ProfilePhoto: a.ProfilePhoto,
		CreatedAt:    a.CreatedAt,
	}
	if self {
		v.Email = a.Email
	}
	if a.Kind == model.KindBusiness {
		v.BusinessName = a.DisplayBusinessName()
		v.BusinessCategory = a.DisplayCategory()
	}
	return v
}

// NearbyView is an account annotated with its distance from the caller.
type NearbyView struct {
	AccountView
	DistanceKm float64 `json:"distanceKm"`
}

func newNearbyViews(results []geo.Result[model.Account]) []NearbyView {
	views := make([]NearbyView, 0, len(results))
	for i := range results {
		views = append(views, NearbyView{
			AccountView: newAccountView(&results[i].Item, false),
			DistanceKm:  results[i].DistanceKm,
		})
	}
	return views
}
