package elastic

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"tourney-registry/internal/models"
)

// Sink mirrors teams into the teams_v1 index.
type Sink struct {
	client *es.Client
}

func NewSink(c *es.Client) *Sink { return &Sink{client: c} }

func (s *Sink) Name() string { return "elastic" }

func (s *Sink) Prepare(ctx context.Context) error {
	return EnsureIndexes(ctx, s.client)
}

func (s *Sink) Upsert(ctx context.Context, t models.Team) error {
	res, err := s.client.Index(IdxTeams, esutil.NewJSONReader(BuildTeamDoc(t)),
		s.client.Index.WithDocumentID(strconv.FormatInt(t.TeamID, 10)),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index team %d: %w", t.TeamID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index team %d: %s", t.TeamID, res.String())
	}
	return nil
}

// Delete removes the team's document. A missing document is not an error.
func (s *Sink) Delete(ctx context.Context, teamID int64) error {
	res, err := s.client.Delete(IdxTeams, strconv.FormatInt(teamID, 10), s.client.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete team %d: %w", teamID, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete team %d: %s", teamID, res.String())
	}
	return nil
}
