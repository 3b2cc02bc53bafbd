package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	provisioningdomain "github.com/croftlabs/croft/internal/provisioning/domain"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	tenantdomain "github.com/croftlabs/croft/internal/tenant/domain"
	"github.com/croftlabs/croft/pkg/tenantctx"
	"github.com/gin-gonic/gin"
)

type signupRequest struct {
	Name                   string `json:"name" binding:"required"`
	PlanTier               string `json:"plan_tier" binding:"required"`
	BillingCycle           string `json:"billing_cycle"`
	PayerEmail             string `json:"payer_email" binding:"required"`
	AdminEmail             string `json:"admin_email"`
	Gateway                string `json:"gateway"`
	ExternalSubscriptionID string `json:"external_subscription_id"`
}

type tenantResponse struct {
	ID          string `json:"id"`
	SchemaName  string `json:"schema_name"`
	DisplayName string `json:"display_name"`
	PaidUntil   string `json:"paid_until"`
	OnTrial     bool   `json:"on_trial"`
}

type subscriptionResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	BillingCycle       string `json:"billing_cycle"`
	CurrentPeriodStart string `json:"current_period_start"`
	CurrentPeriodEnd   string `json:"current_period_end"`
	TrialEnd           string `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	AutoRenew          bool   `json:"auto_renew"`
}

type provisionResponse struct {
	Tenant       *tenantResponse       `json:"tenant,omitempty"`
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
	SchemaName   string                `json:"schema_name,omitempty"`
	// AdminPassword is returned exactly once, on creation.
	AdminPassword string `json:"admin_password,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`
}

func (s *Server) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, provisioningdomain.ErrInvalidName)
		return
	}

	tier, err := plandomain.ParseTier(strings.ToLower(req.PlanTier))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	cycle := subscriptiondomain.CycleMonthly
	if req.BillingCycle != "" {
		cycle, err = subscriptiondomain.ParseBillingCycle(strings.ToLower(req.BillingCycle))
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	result, err := s.provisioner.CreateTenant(c.Request.Context(), provisioningdomain.CreateTenantRequest{
		Name:                   req.Name,
		PlanTier:               tier,
		BillingCycle:           cycle,
		PayerEmail:             req.PayerEmail,
		ExternalSubscriptionID: req.ExternalSubscriptionID,
		Gateway:                req.Gateway,
		AdminEmail:             req.AdminEmail,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, renderResult(result))
}

func (s *Server) GetSubscription(c *gin.Context) {
	tenantID, err := tenantIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subscription, err := s.subsvc.GetByTenantID(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderSubscription(&subscription))
}

type lifecycleRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) DeactivateTenant(c *gin.Context) {
	tenantID, err := tenantIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req lifecycleRequest
	_ = c.ShouldBindJSON(&req)

	result, err := s.provisioner.DeactivateTenant(c.Request.Context(), tenantID, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderResult(result))
}

type reactivateRequest struct {
	PlanTier               string `json:"plan_tier"`
	BillingCycle           string `json:"billing_cycle" binding:"required"`
	ExternalSubscriptionID string `json:"external_subscription_id"`
}

func (s *Server) ReactivateTenant(c *gin.Context) {
	tenantID, err := tenantIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req reactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, subscriptiondomain.ErrInvalidBillingCycle)
		return
	}

	cycle, err := subscriptiondomain.ParseBillingCycle(strings.ToLower(req.BillingCycle))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var tier plandomain.Tier
	if req.PlanTier != "" {
		tier, err = plandomain.ParseTier(strings.ToLower(req.PlanTier))
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	result, err := s.provisioner.ReactivateTenant(c.Request.Context(), provisioningdomain.ReactivateTenantRequest{
		TenantID:               tenantID,
		PlanTier:               tier,
		BillingCycle:           cycle,
		ExternalSubscriptionID: req.ExternalSubscriptionID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderResult(result))
}

type upgradeRequest struct {
	PlanTier     string `json:"plan_tier" binding:"required"`
	BillingCycle string `json:"billing_cycle" binding:"required"`
}

func (s *Server) UpgradeSubscription(c *gin.Context) {
	tenantID, err := tenantIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req upgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, plandomain.ErrUnknownTier)
		return
	}

	tier, err := plandomain.ParseTier(strings.ToLower(req.PlanTier))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	cycle, err := subscriptiondomain.ParseBillingCycle(strings.ToLower(req.BillingCycle))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.provisioner.UpgradeSubscription(c.Request.Context(), provisioningdomain.UpgradeSubscriptionRequest{
		TenantID:     tenantID,
		NewPlanTier:  tier,
		BillingCycle: cycle,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderResult(result))
}

type cancelRequest struct {
	Immediate bool `json:"immediate"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	tenantID, err := tenantIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	if err := s.subsvc.Cancel(c.Request.Context(), tenantID, req.Immediate); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) DeleteTenant(c *gin.Context) {
	tenantID, err := tenantIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.provisioner.DeleteTenant(c.Request.Context(), tenantID, c.Query("reason")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.plansvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func tenantIDParam(c *gin.Context) (snowflake.ID, error) {
	if ref, ok := tenantctx.FromContext(c.Request.Context()); ok {
		return ref.ID, nil
	}
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("tenant_id")))
	if err != nil {
		return 0, tenantdomain.ErrTenantNotFound
	}
	return id, nil
}

func renderResult(result provisioningdomain.Result) provisionResponse {
	out := provisionResponse{
		SchemaName:    result.SchemaName,
		AdminPassword: result.AdminPassword,
		Degraded:      result.Degraded,
	}
	if result.Tenant != nil {
		out.Tenant = &tenantResponse{
			ID:          result.Tenant.ID.String(),
			SchemaName:  result.Tenant.SchemaName,
			DisplayName: result.Tenant.DisplayName,
			PaidUntil:   result.Tenant.PaidUntil.Format("2006-01-02"),
			OnTrial:     result.Tenant.OnTrial,
		}
	}
	if result.Subscription != nil {
		out.Subscription = renderSubscription(result.Subscription)
	}
	return out
}

func renderSubscription(subscription *subscriptiondomain.Subscription) *subscriptionResponse {
	out := &subscriptionResponse{
		ID:                 subscription.ID.String(),
		Status:             string(subscription.Status),
		BillingCycle:       string(subscription.BillingCycle),
		CurrentPeriodStart: subscription.CurrentPeriodStart.Format(timeFormat),
		CurrentPeriodEnd:   subscription.CurrentPeriodEnd.Format(timeFormat),
		CancelAtPeriodEnd:  subscription.CancelAtPeriodEnd,
		AutoRenew:          subscription.AutoRenew,
	}
	if subscription.TrialEnd != nil {
		out.TrialEnd = subscription.TrialEnd.Format(timeFormat)
	}
	return out
}

const timeFormat = "2006-01-02T15:04:05Z07:00"
