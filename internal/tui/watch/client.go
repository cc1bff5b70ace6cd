package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jvasek/meshbot/internal/api"
)

type statusMsg api.StatusResponse

type nodesMsg []api.NodeResponse

type errMsg error

// fetchStatus queries GET /api/status.
func fetchStatus(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var resp api.StatusResponse
		if err := getJSON(apiURL+"/api/status", apiKey, &resp); err != nil {
			return errMsg(err)
		}
		return statusMsg(resp)
	}
}

// fetchNodes queries GET /api/nodes.
func fetchNodes(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		var resp []api.NodeResponse
		if err := getJSON(apiURL+"/api/nodes", apiKey, &resp); err != nil {
			return errMsg(err)
		}
		return nodesMsg(resp)
	}
}

func getJSON(url, apiKey string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
