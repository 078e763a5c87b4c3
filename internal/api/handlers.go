package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eliteGoblin/zayproxy/internal/domain"
	"github.com/eliteGoblin/zayproxy/internal/usecase"
)

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// State

func (s *Server) getState(c *gin.Context) {
	state, err := s.svc.Orchestrator.State()
	if err != nil {
		fail(c, err)
		return
	}
	success(c, state)
}

// Profiles

func (s *Server) listProfiles(c *gin.Context) {
	profiles, err := s.svc.Profiles.List()
	if err != nil {
		fail(c, err)
		return
	}
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	success(c, gin.H{"profiles": profiles})
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := s.svc.Profiles.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, p)
}

func (s *Server) addProfile(c *gin.Context) {
	var p domain.Profile
	if !bind(c, &p) {
		return
	}
	created, err := s.svc.Profiles.Add(p)
	if err != nil {
		fail(c, err)
		return
	}
	successWithStatus(c, http.StatusCreated, created)
}

func (s *Server) updateProfile(c *gin.Context) {
	var p domain.Profile
	if !bind(c, &p) {
		return
	}
	p.ID = c.Param("id")
	updated, result, err := s.svc.Orchestrator.UpdateProfile(c.Request.Context(), p)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"profile": updated, "apply": result})
}

func (s *Server) deleteProfile(c *gin.Context) {
	if err := s.svc.Orchestrator.DeleteProfile(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	success(c, nil)
}

func (s *Server) testProfile(c *gin.Context) {
	p, err := s.svc.Profiles.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, s.svc.Tester.Test(c.Request.Context(), p))
}

// Rules

func (s *Server) listRules(c *gin.Context) {
	var (
		rules []domain.Rule
		err   error
	)
	if profileID := c.Query("profileId"); profileID != "" {
		rules, err = s.svc.Rules.ForProfile(profileID)
	} else {
		rules, err = s.svc.Rules.List()
	}
	if err != nil {
		fail(c, err)
		return
	}
	if rules == nil {
		rules = []domain.Rule{}
	}
	success(c, gin.H{"rules": rules})
}

func (s *Server) getRule(c *gin.Context) {
	r, err := s.svc.Rules.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, r)
}

func (s *Server) addRule(c *gin.Context) {
	var r domain.Rule
	if !bind(c, &r) {
		return
	}
	created, err := s.svc.Rules.Add(r)
	if err != nil {
		fail(c, err)
		return
	}
	successWithStatus(c, http.StatusCreated, created)
}

func (s *Server) updateRule(c *gin.Context) {
	var r domain.Rule
	if !bind(c, &r) {
		return
	}
	r.ID = c.Param("id")
	updated, err := s.svc.Rules.Update(r)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, updated)
}

func (s *Server) deleteRule(c *gin.Context) {
	if err := s.svc.Rules.Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	success(c, nil)
}

type testURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) testRule(c *gin.Context) {
	var req testURLRequest
	if !bind(c, &req) {
		return
	}
	result, err := s.svc.Rules.Test(req.URL)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, result)
}

// Firewall

func (s *Server) listFirewallRules(c *gin.Context) {
	rules, err := s.svc.Firewall.List()
	if err != nil {
		fail(c, err)
		return
	}
	if rules == nil {
		rules = []domain.FirewallRule{}
	}
	success(c, gin.H{"rules": rules})
}

func (s *Server) getFirewallRule(c *gin.Context) {
	r, err := s.svc.Firewall.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, r)
}

func (s *Server) addFirewallRule(c *gin.Context) {
	var r domain.FirewallRule
	if !bind(c, &r) {
		return
	}
	created, err := s.svc.Firewall.Add(r)
	if err != nil {
		fail(c, err)
		return
	}
	successWithStatus(c, http.StatusCreated, created)
}

func (s *Server) updateFirewallRule(c *gin.Context) {
	var r domain.FirewallRule
	if !bind(c, &r) {
		return
	}
	r.ID = c.Param("id")
	updated, err := s.svc.Firewall.Update(r)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, updated)
}

func (s *Server) deleteFirewallRule(c *gin.Context) {
	if err := s.svc.Firewall.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	success(c, nil)
}

func (s *Server) toggleFirewallRule(c *gin.Context) {
	r, err := s.svc.Firewall.Toggle(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, r)
}

func (s *Server) applyFirewall(c *gin.Context) {
	result, err := s.svc.Firewall.ApplyAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, result)
}

func (s *Server) removeAllFirewall(c *gin.Context) {
	result, err := s.svc.Firewall.RemoveAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, result)
}

func (s *Server) enableAllFirewall(c *gin.Context) {
	n, err := s.svc.Firewall.EnableAll()
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"changed": n})
}

func (s *Server) disableAllFirewall(c *gin.Context) {
	n, err := s.svc.Firewall.DisableAll()
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"changed": n})
}

func (s *Server) firewallStatus(c *gin.Context) {
	status, err := s.svc.Firewall.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, status)
}

// Proxy

func (s *Server) enableProxy(c *gin.Context) {
	result, err := s.svc.Orchestrator.Enable(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, result)
}

func (s *Server) disableProxy(c *gin.Context) {
	result, err := s.svc.Orchestrator.Disable(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, result)
}

type switchRequest struct {
	ProfileID string `json:"profileId"`
}

func (s *Server) switchProxy(c *gin.Context) {
	var req switchRequest
	if !bind(c, &req) {
		return
	}
	if req.ProfileID == "" {
		badRequest(c, "profileId is required")
		return
	}
	result, err := s.svc.Orchestrator.SwitchProfile(c.Request.Context(), req.ProfileID)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, result)
}

func (s *Server) verifyProxy(c *gin.Context) {
	v, err := s.svc.Orchestrator.Verify(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, v)
}

// Settings, transfer, PAC and logs

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.svc.Settings.Get()
	if err != nil {
		fail(c, err)
		return
	}
	success(c, settings)
}

func (s *Server) updateSettings(c *gin.Context) {
	var patch usecase.SettingsPatch
	if !bind(c, &patch) {
		return
	}
	settings, err := s.svc.Settings.Update(patch)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, settings)
}

func (s *Server) exportConfig(c *gin.Context) {
	doc, err := s.svc.Transfer.Export()
	if err != nil {
		fail(c, err)
		return
	}
	success(c, doc)
}

func (s *Server) importConfig(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}
	if err := s.svc.Transfer.ImportJSON(c.Request.Context(), data); err != nil {
		fail(c, err)
		return
	}
	success(c, nil)
}

func (s *Server) pac(c *gin.Context) {
	script, err := s.svc.Rules.PAC()
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/x-ns-proxy-autoconfig", []byte(script))
}

func (s *Server) logs(c *gin.Context) {
	if s.svc.Logs == nil {
		success(c, gin.H{"entries": []any{}})
		return
	}
	if c.Query("format") == "text" {
		c.String(http.StatusOK, s.svc.Logs.Text())
		return
	}
	success(c, gin.H{"entries": s.svc.Logs.Entries()})
}

func (s *Server) clearLogs(c *gin.Context) {
	if s.svc.Logs != nil {
		s.svc.Logs.Clear()
	}
	success(c, nil)
}
