package relsim

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"

	"pkt.systems/relsdk/api"
)

type compute struct {
	info   api.Compute
	events []api.ComputeEvent
}

func (s *Sim) event(c *compute, name string) {
	c.events = append(c.events, api.ComputeEvent{
		ComputeID: c.info.ID,
		Event:     name,
		CreatedOn: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Sim) listComputes(names, ids, sizes, states, regions []string) []api.Compute {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []api.Compute{}
	for _, c := range s.computes {
		if !matches(names, c.info.Name) || !matches(ids, c.info.ID) || !matches(sizes, c.info.Size) ||
			!matches(states, c.info.State) || !matches(regions, c.info.Region) {
			continue
		}
		out = append(out, c.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func matches(filter []string, value string) bool {
	return len(filter) == 0 || slices.Contains(filter, value)
}

func (s *Sim) createCompute(req api.CreateComputeRequest) (api.Compute, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return api.Compute{}, httpError{Status: http.StatusBadRequest, Code: "missing_name", Detail: "compute name required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.computes[name]; ok {
		return api.Compute{}, httpError{Status: http.StatusConflict, Code: "compute_exists", Detail: fmt.Sprintf("compute %q already exists", name)}
	}
	c := &compute{info: api.Compute{
		ID:        xid.New().String(),
		Name:      name,
		Size:      req.Size,
		Region:    req.Region,
		State:     "PROVISIONED",
		CreatedBy: "relsim",
		CreatedOn: s.now().UTC().Format(time.RFC3339),
	}}
	if req.DryRun {
		c.info.State = "REQUESTED"
		return c.info, nil
	}
	s.event(c, "CREATED")
	s.event(c, "PROVISIONED")
	s.computes[name] = c
	return c.info, nil
}

func (s *Sim) deleteCompute(req api.DeleteComputeRequest) (api.DeleteComputeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.computes[req.Name]
	if !ok {
		return api.DeleteComputeResponse{}, httpError{Status: http.StatusNotFound, Code: "compute_not_found", Detail: fmt.Sprintf("compute %q not found", req.Name)}
	}
	if req.DryRun {
		return api.DeleteComputeResponse{Name: req.Name}, nil
	}
	delete(s.computes, req.Name)
	for _, db := range s.dbs {
		if db.defaultCompute == req.Name {
			db.defaultCompute = ""
		}
	}
	return api.DeleteComputeResponse{Name: c.info.Name, Deleted: true}, nil
}

func (s *Sim) computeEvents(id string) ([]api.ComputeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.computes {
		if c.info.ID == id {
			return append([]api.ComputeEvent{}, c.events...), nil
		}
	}
	return nil, httpError{Status: http.StatusNotFound, Code: "compute_not_found", Detail: fmt.Sprintf("compute %q not found", id)}
}

func (s *Sim) listDatabases(names, states []string) []api.Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []api.Database{}
	for _, db := range s.dbs {
		info := db.summary()
		if !matches(names, info.Name) || !matches(states, info.State) {
			continue
		}
		out = append(out, info)
	}
	sortDatabases(out)
	return out
}

func (s *Sim) updateDatabase(req api.UpdateDatabaseRequest) (api.Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[req.Name]
	if !ok {
		return api.Database{}, httpError{Status: http.StatusNotFound, Code: "database_not_found", Detail: fmt.Sprintf("database %q not found", req.Name)}
	}
	target := db.defaultCompute
	switch {
	case req.RemoveDefaultCompute:
		target = ""
	case req.DefaultComputeName != "":
		if _, ok := s.computes[req.DefaultComputeName]; !ok {
			return api.Database{}, httpError{Status: http.StatusNotFound, Code: "compute_not_found", Detail: fmt.Sprintf("compute %q not found", req.DefaultComputeName)}
		}
		target = req.DefaultComputeName
	}
	if req.DryRun {
		info := db.summary()
		info.DefaultComputeName = target
		return info, nil
	}
	db.defaultCompute = target
	return db.summary(), nil
}
