package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) JWTMiddlewareWithRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return app.JWTMiddleware(next, requiredRole)
	}
}

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	authMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole("user"))
	adminAuthMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole("admin"))

	mux := pat.New()

	// Subscriptions
	mux.Post("/subscription", authMiddleware.ThenFunc(app.subscriptionHandler.CreateSubscription))
	mux.Get("/subscription/user/:user_id", authMiddleware.ThenFunc(app.subscriptionHandler.GetSubscriptionsByUser))
	mux.Post("/subscription/:id/change_tier", authMiddleware.ThenFunc(app.subscriptionHandler.ChangeTier))
	mux.Post("/subscription/:id/renew", authMiddleware.ThenFunc(app.subscriptionHandler.Renew))
	mux.Post("/subscription/:id/cancel", authMiddleware.ThenFunc(app.subscriptionHandler.Cancel))
	mux.Post("/subscription/reminders/run", adminAuthMiddleware.ThenFunc(app.subscriptionHandler.RunReminders))

	// Payments: the IPN endpoint stays open, the gateway authenticates by
	// tracking-id corroboration rather than by session.
	mux.Get("/payment/ipn", standardMiddleware.ThenFunc(app.paymentHandler.IPN))
	mux.Post("/payment/ipn", standardMiddleware.ThenFunc(app.paymentHandler.IPN))
	mux.Get("/payment/redirect", standardMiddleware.ThenFunc(app.paymentHandler.Redirect))
	mux.Post("/payment/register_ipn", adminAuthMiddleware.ThenFunc(app.paymentHandler.RegisterIPN))
	mux.Get("/payment/status/:tracking_id", adminAuthMiddleware.ThenFunc(app.paymentHandler.TransactionStatus))

	return mux
}
