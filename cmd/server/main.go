package main

import (
	"waba-gateway/internal/api"
	"waba-gateway/internal/campaign"
	"waba-gateway/internal/config"
	"waba-gateway/internal/conversation"
	"waba-gateway/internal/database"
	"waba-gateway/internal/dispatch"
	"waba-gateway/internal/graph"
	"waba-gateway/internal/signature"
	"waba-gateway/internal/template"
	"waba-gateway/internal/webhook"
	"waba-gateway/internal/ws"
	"waba-gateway/pkg/logx"
	"waba-gateway/pkg/metrics"
	"waba-gateway/pkg/rmq"

	"github.com/gin-gonic/gin"
)

func main() {
	logx.Init()
	defer logx.Sync()
	log := logx.Named("server")

	cfg := config.LoadConfig()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalw("database connection failed", "err", err)
	}

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Tenant-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	graphClient := graph.NewClient(graph.Config{
		BaseURL:           cfg.GraphBaseURL,
		APIVersion:        cfg.GraphAPIVersion,
		AccessToken:       cfg.WhatsAppToken,
		PhoneNumberID:     cfg.PhoneNumberID,
		BusinessAccountID: cfg.WhatsAppBusinessAccountID,
		Timeout:           cfg.HTTPTimeout,
	})

	hub := ws.NewHub()
	go hub.Run()

	tracker := conversation.NewTracker(db, cfg.WindowDuration)
	dispatcher := dispatch.NewDispatcher(db, graphClient, tracker)
	templateManager := template.NewManager(db, graphClient)
	ingester := webhook.NewIngester(db, tracker, dispatcher, hub, cfg.AutoReadReceipts)

	var publisher campaign.JobPublisher
	if cfg.RMQURL != "" {
		pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.RMQQueue)
		if err != nil {
			log.Fatalw("rabbitmq connection failed", "err", err)
		}
		defer pub.Close()
		publisher = pub
		log.Infow("campaign dispatch via queue", "queue", cfg.RMQQueue)
	}
	runner := campaign.NewRunner(db, dispatcher, nil, publisher)

	webhookHandler := webhook.NewHandler(cfg.VerifyToken, signature.NewVerifier(cfg.AppSecret), ingester)
	templateHandler := api.NewTemplateHandler(templateManager)
	messageHandler := api.NewMessageHandler(dispatcher, db)
	conversationHandler := api.NewConversationHandler(tracker)
	campaignHandler := api.NewCampaignHandler(runner)

	// Webhook Routes
	r.GET("/webhook", webhookHandler.Verify)
	r.POST("/webhook", webhookHandler.Receive)

	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiGroup := r.Group("/api")
	{
		// Template Routes
		apiGroup.GET("/templates", templateHandler.GetTemplates)
		apiGroup.POST("/templates", templateHandler.CreateTemplate)
		apiGroup.GET("/templates/:id", templateHandler.GetTemplate)
		apiGroup.PUT("/templates/:id", templateHandler.UpdateTemplate)
		apiGroup.DELETE("/templates/:id", templateHandler.DeleteTemplate)
		apiGroup.POST("/templates/:id/submit", templateHandler.SubmitTemplate)
		apiGroup.POST("/templates/sync", templateHandler.SyncTemplates)

		// Message Routes
		apiGroup.GET("/messages", messageHandler.GetMessages)
		apiGroup.POST("/messages/text", messageHandler.SendText)
		apiGroup.POST("/messages/template", messageHandler.SendTemplate)
		apiGroup.POST("/messages/media", messageHandler.SendMedia)
		apiGroup.POST("/messages/interactive", messageHandler.SendInteractive)

		// Conversation Routes
		apiGroup.GET("/conversations", conversationHandler.GetConversations)
		apiGroup.GET("/conversations/:id", conversationHandler.GetConversation)
		apiGroup.POST("/conversations/:id/close", conversationHandler.CloseConversation)
		apiGroup.POST("/conversations/:id/assign", conversationHandler.ReassignConversation)

		// Campaign Routes
		apiGroup.GET("/campaigns", campaignHandler.GetCampaigns)
		apiGroup.POST("/campaigns", campaignHandler.CreateCampaign)
		apiGroup.GET("/campaigns/:id", campaignHandler.GetCampaign)
		apiGroup.PUT("/campaigns/:id", campaignHandler.UpdateCampaign)
		apiGroup.DELETE("/campaigns/:id", campaignHandler.DeleteCampaign)
		apiGroup.POST("/campaigns/:id/send", campaignHandler.SendCampaign)
		apiGroup.POST("/campaigns/:id/pause", campaignHandler.PauseCampaign)
		apiGroup.POST("/campaigns/:id/resume", campaignHandler.ResumeCampaign)
	}

	log.Infow("server starting", "port", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalw("server exited", "err", err)
	}
}
