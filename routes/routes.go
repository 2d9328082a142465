package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "mailburst/controllers"
	"mailburst/middleware"
	"mailburst/utils"
	"mailburst/worker"
)

// SetupMailRoutes wires the dispatch, sender account, and event endpoints.
func SetupMailRoutes(app *fiber.App, db *gorm.DB, mw *worker.MailWorker, storage utils.ObjectStorage) {
	routeLogger := log.New(os.Stdout, "ROUTES: ", log.Ldate|log.Ltime|log.Lshortfile)

	mailController := controller.NewMailController(db, mw, storage, log.New(os.Stdout, "MAIL: ", log.Ldate|log.Ltime))
	senderController := controller.NewSenderController(db, log.New(os.Stdout, "SENDER: ", log.Ldate|log.Ltime))
	oauthController := controller.NewOAuthController(db, log.New(os.Stdout, "OAUTH: ", log.Ldate|log.Ltime))

	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// OAuth callback is hit by the provider redirect, so it cannot carry a JWT
	api.Get("/oauth/callback", oauthController.Callback)

	protected := api.Group("", middleware.Protected())

	// Mail dispatch
	mail := protected.Group("/mail")
	mail.Post("/send", middleware.SendRateLimiter(), mailController.SendMail)
	mail.Post("/schedule", middleware.SendRateLimiter(), mailController.ScheduleMail)
	mail.Get("/scheduled", mailController.ListScheduled)
	mail.Delete("/scheduled", mailController.DeleteScheduled)
	mail.Get("/failed", mailController.FailedJobs)

	// Sender accounts
	sender := protected.Group("/senders")
	sender.Post("/", senderController.CreateSender)
	sender.Get("/", senderController.GetSenders)
	sender.Get("/:id", senderController.GetSender)
	sender.Delete("/:id", senderController.DeleteSender)
	sender.Post("/:id/verify", senderController.StartVerification)
	sender.Post("/:id/verify/confirm", senderController.ConfirmVerification)

	// OAuth account connection
	protected.Post("/oauth/connect", oauthController.Connect)

	// WebSocket feed of delivery events; authenticates inside the handler
	app.Get("/api/v1/events", websocket.New(func(c *websocket.Conn) {
		controller.HandleDeliveryEventsWS(c)
	}))

	routeLogger.Println("Mail routes initialized successfully")
}
