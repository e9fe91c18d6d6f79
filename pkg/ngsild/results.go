package ngsild

import (
	"encoding/json"

	"github.com/diwise/ngsild-client/pkg/ngsild/entities"
)

type CreateEntityResult struct {
	location string
}

func NewCreateEntityResult(location string) *CreateEntityResult {
	return &CreateEntityResult{
		location: location,
	}
}

func (r CreateEntityResult) Location() string {
	return r.location
}

type QueryEntitiesResult struct {
	Found      chan (*entities.Entity)
	TotalCount int64
}

func NewQueryEntitiesResult() *QueryEntitiesResult {
	qer := &QueryEntitiesResult{
		Found:      make(chan *entities.Entity),
		TotalCount: -1,
	}
	return qer
}

type QueryTemporalEntitiesResult struct {
	Found      chan (*entities.Entity)
	TotalCount int64
}

func NewQueryTemporalEntitiesResult() *QueryTemporalEntitiesResult {
	qter := &QueryTemporalEntitiesResult{
		Found:      make(chan *entities.Entity),
		TotalCount: -1,
	}
	return qter
}

type MergeEntityResult struct {
	body []byte
}

func NewMergeEntityResult(body []byte) (*MergeEntityResult, error) {
	return &MergeEntityResult{body: body}, nil
}

func (r MergeEntityResult) Bytes() []byte {
	return r.body
}

type DeleteEntityResult struct{}

func NewDeleteEntityResult() *DeleteEntityResult {
	return &DeleteEntityResult{}
}

type UpdateEntityAttributesResult struct {
	Updated    []string `json:"updated"`
	NotUpdated []struct {
		AttributeName string `json:"attributeName"`
		Reason        string `json:"reason"`
	} `json:"notUpdated"`
}

func (uear *UpdateEntityAttributesResult) Bytes() []byte {
	b, _ := json.Marshal(uear)
	return b
}

func (uear *UpdateEntityAttributesResult) IsMultiStatus() bool {
	return len(uear.NotUpdated) > 0
}

func NewUpdateEntityAttributesResult(body []byte) (*UpdateEntityAttributesResult, error) {
	uear := &UpdateEntityAttributesResult{}
	if len(body) > 0 {
		err := json.Unmarshal(body, uear)
		if err != nil {
			return nil, err
		}
	}
	return uear, nil
}
