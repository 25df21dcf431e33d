// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package webhook implements the DeploymentDispatcher inbound HTTP
// handler that reports deployment outcomes back to a healing session.
package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// DeploymentReport is the payload a deployment pipeline posts back once
// a commit produced by the healing control plane has rolled out.
type DeploymentReport struct {
	SessionID string `json:"sessionId" binding:"required"`
	CommitSHA string `json:"commitSha" binding:"required"`
	Status    string `json:"status" binding:"required"` // "succeeded", "failed", or an in-progress value such as "deploying"
	Detail    string `json:"detail,omitempty"`
}

// Handler is invoked once a well-formed, authenticated report arrives.
// The orchestrator implements this to resume the suspended session.
type Handler func(report DeploymentReport) error

// Dispatcher wires the /webhooks/deployment route behind a bcrypt
// shared-secret check.
type Dispatcher struct {
	secretHash string
	handle     Handler
	log        *logrus.Entry
}

func NewDispatcher(secretHash string, handle Handler, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{secretHash: secretHash, handle: handle, log: log}
}

// Register attaches the dispatcher's route to router, with recovery
// middleware guarding the handler the way cmd/server wires its own
// routes.
func (d *Dispatcher) Register(router gin.IRouter) {
	router.POST("/webhooks/deployment", gin.Recovery(), d.serve)
}

func (d *Dispatcher) serve(c *gin.Context) {
	secret := c.GetHeader("X-Deployment-Secret")
	if secret == "" || d.secretHash == "" || bcrypt.CompareHashAndPassword([]byte(d.secretHash), []byte(secret)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid shared secret"})
		return
	}

	var report DeploymentReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.handle(report); err != nil {
		d.log.WithFields(logrus.Fields{"sessionId": report.SessionID, "error": err}).
			Error("deployment report handling failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process report"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
