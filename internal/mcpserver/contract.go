package mcpserver

// PositionModelURI is the resource URI of PositionModelContract.
const PositionModelURI = "memtree://position-model"

// PositionModelContract explains to LLM consumers how memories are addressed.
const PositionModelContract = `# Memtree Position Model

Memories form a single tree. Each memory is addressed by its **position**: the
ordered list of descriptions on the path from the root down to it.

## Addressing

- ` + "`[]`" + ` is the root. It always exists and cannot be edited or removed.
- ` + "`[\"projects\"]`" + ` is the child of the root described "projects".
- ` + "`[\"projects\", \"memtree\"]`" + ` is the child "memtree" of that memory.

A description is unique among its siblings, so a position names at most one
memory. Matching is exact and case-sensitive.

## Tools

| Tool | Position refers to |
|---|---|
| ` + "`add_memory`" + ` | the **parent** of the new memory |
| ` + "`read_memory`" + ` | the memory itself (records an access) |
| ` + "`list_children`" + ` | the memory whose direct children are listed |
| ` + "`edit_memory`" + ` | the memory itself |
| ` + "`remove_memory`" + ` | the memory itself; its whole subtree goes with it |

Renaming a memory with ` + "`edit_memory`" + ` changes its position: the last
element becomes the new description.

## Errors

Expected failures come back as a tool error whose text is a JSON object
` + "`{\"error\": \"...\"}`" + `, for example when a position does not exist, a
sibling with the same description already exists, or the root is targeted by
an edit or a removal. Nothing is changed when an error is returned.

## Example

1. ` + "`add_memory {\"position\": [], \"description\": \"projects\"}`" + `
2. ` + "`add_memory {\"position\": [\"projects\"], \"description\": \"memtree\", \"content\": \"Tree of memories\", \"tags\": [\"go\"]}`" + `
3. ` + "`list_children {\"position\": [\"projects\"]}`" + `
4. ` + "`read_memory {\"position\": [\"projects\", \"memtree\"]}`" + `
`
