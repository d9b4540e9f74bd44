package hooks

import (
	"strconv"

	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/query"
)

// Cache keys. Every key for a workspace-scoped read starts with
// {kind, workspaceID} so a whole workspace can be invalidated by prefix.

func WorkspacesKey() query.Key { return query.Key{"workspaces"} }

func WorkspaceKey(id string) query.Key { return query.Key{"workspace", id} }

// DocumentsPrefix matches every document list of a workspace.
func DocumentsPrefix(workspaceID string) query.Key { return query.Key{"documents", workspaceID} }

func DocumentsKey(req models.ListDocumentsRequest) query.Key {
	return DocumentsPrefix(req.WorkspaceID).Append(req.Status, strconv.Itoa(req.Limit), strconv.Itoa(req.Offset))
}

func DocumentKey(workspaceID, documentID string) query.Key {
	return query.Key{"document", workspaceID, documentID}
}

func SearchPrefix(workspaceID string) query.Key { return query.Key{"search", workspaceID} }

func SearchKey(req models.SearchRequest) query.Key {
	return SearchPrefix(req.WorkspaceID).Append(
		req.Query,
		strconv.Itoa(req.TopK),
		strconv.FormatFloat(req.MinScore, 'g', -1, 64),
	)
}

func ChatKey(workspaceID, sessionID string) query.Key {
	return query.Key{"chat", workspaceID, sessionID}
}

// workspaceScoped lists every prefix holding data that belongs to workspaceID.
func workspaceScoped(workspaceID string) []query.Key {
	return []query.Key{
		WorkspaceKey(workspaceID),
		DocumentsPrefix(workspaceID),
		{"document", workspaceID},
		SearchPrefix(workspaceID),
		{"chat", workspaceID},
	}
}

// contentChanged lists the reads that go stale when a workspace's document
// set or processing state changes.
func contentChanged(workspaceID string) []query.Key {
	return []query.Key{DocumentsPrefix(workspaceID), {"document", workspaceID}, SearchPrefix(workspaceID)}
}
