package esquery

import "fmt"

// CompileInsert compiles an index request for doc. The document is sent
// unchanged; when it carries the key field, that value becomes the request id.
func (c *Compiler) CompileInsert(target Target, doc map[string]any) (Request, error) {
	if doc == nil {
		return Request{}, fmt.Errorf("%w: insert document is nil", ErrInvalidCondition)
	}
	body := make(WireTree, len(doc))
	for k, v := range doc {
		body[k] = v
	}
	req := Request{
		Index: target.Index,
		Type:  target.Type,
		Body:  body,
	}
	if id, ok := doc[target.keyName()]; ok && id != nil {
		req.ID = id
	}
	return req, nil
}

// CompileUpdate compiles a partial-document update of the document id.
func (c *Compiler) CompileUpdate(target Target, id any, values map[string]any) (Request, error) {
	if isEmptyID(id) {
		return Request{}, ErrMissingDocumentID
	}
	if values == nil {
		values = map[string]any{}
	}
	return Request{
		Index: target.Index,
		Type:  target.Type,
		ID:    id,
		Body:  WireTree{"doc": values},
	}, nil
}

// CompileDelete compiles the removal of the document id.
func (c *Compiler) CompileDelete(target Target, id any) (Request, error) {
	if isEmptyID(id) {
		return Request{}, ErrMissingDocumentID
	}
	return Request{
		Index: target.Index,
		Type:  target.Type,
		ID:    id,
	}, nil
}

func isEmptyID(id any) bool {
	if id == nil {
		return true
	}
	s, ok := id.(string)
	return ok && s == ""
}

func stringID(id any) string {
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprint(id)
}
