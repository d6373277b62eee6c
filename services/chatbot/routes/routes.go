// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianChat/services/chatbot/handlers"
)

// SetupRoutes registers the chatbot HTTP surface: liveness, metrics, the
// static chat page, and the WebSocket chat endpoint.
func SetupRoutes(router *gin.Engine, uiDir string, deps handlers.ChatDeps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.StaticFS("/ui", http.Dir(uiDir))

	// Friendly redirects to the actual HTML file.
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/ui/chat.html")
	})
	router.GET("/chat", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/ui/chat.html")
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(deps))
	}
}
