package cms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

type MenuBoard struct {
	ID          int    `json:"menuId"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
	FolderID    int    `json:"folderId"`
	ModifiedDt  string `json:"modifiedDt"`
}

type MenuBoardInput struct {
	Name        string
	Code        string
	Description string
	FolderID    int
}

func (in MenuBoardInput) form() url.Values {
	f := url.Values{"name": {in.Name}}
	if in.Code != "" {
		f.Set("code", in.Code)
	}
	if in.Description != "" {
		f.Set("description", in.Description)
	}
	if in.FolderID > 0 {
		f.Set("folderId", strconv.Itoa(in.FolderID))
	}
	return f
}

type Category struct {
	ID          int    `json:"menuCategoryId"`
	MenuID      int    `json:"menuId"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
	MediaID     *int   `json:"mediaId"`
}

type CategoryInput struct {
	Name        string
	Code        string
	Description string
	MediaID     int
}

func (in CategoryInput) form() url.Values {
	f := url.Values{"name": {in.Name}}
	if in.Code != "" {
		f.Set("code", in.Code)
	}
	if in.Description != "" {
		f.Set("description", in.Description)
	}
	if in.MediaID > 0 {
		f.Set("mediaId", strconv.Itoa(in.MediaID))
	}
	return f
}

type Product struct {
	ID           int     `json:"menuProductId"`
	CategoryID   int     `json:"menuCategoryId"`
	MenuID       int     `json:"menuId"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Description  string  `json:"description"`
	Availability int     `json:"availability"`
	Code         string  `json:"code"`
	MediaID      *int    `json:"mediaId"`
}

type ProductInput struct {
	Name        string
	Price       float64
	Description string
	Available   bool
	Code        string
}

func (in ProductInput) form() url.Values {
	f := url.Values{
		"name":         {in.Name},
		"price":        {strconv.FormatFloat(in.Price, 'f', 2, 64)},
		"availability": {boolFlag(in.Available)},
	}
	if in.Description != "" {
		f.Set("description", in.Description)
	}
	if in.Code != "" {
		f.Set("code", in.Code)
	}
	return f
}

type Media struct {
	ID        int    `json:"mediaId"`
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	FileSize  int64  `json:"fileSize"`
	StoredAs  string `json:"storedAs"`
	FolderID  int    `json:"folderId"`
}

type Layout struct {
	ID              int    `json:"layoutId"`
	Layout          string `json:"layout"`
	Description     string `json:"description"`
	PublishedStatus string `json:"publishedStatus"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

type DataSet struct {
	ID          int    `json:"dataSetId"`
	DataSet     string `json:"dataSet"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

type Folder struct {
	ID       int      `json:"id"`
	Text     string   `json:"text"`
	ParentID *int     `json:"parentId"`
	Children []Folder `json:"children"`
}

// FolderRow: папка с глубиной для плоского отображения дерева.
type FolderRow struct {
	Folder
	Depth int
}

// Flatten обходит дерево в глубину, сохраняя порядок CMS.
func Flatten(tree []Folder) []FolderRow {
	var out []FolderRow
	var walk func([]Folder, int)
	walk = func(fs []Folder, depth int) {
		for _, f := range fs {
			out = append(out, FolderRow{Folder: f, Depth: depth})
			walk(f.Children, depth+1)
		}
	}
	walk(tree, 0)
	return out
}

type Display struct {
	ID              int    `json:"displayId"`
	Display         string `json:"display"`
	Description     string `json:"description"`
	LoggedIn        int    `json:"loggedIn"`
	LastAccessed    string `json:"lastAccessed"`
	DefaultLayoutID int    `json:"defaultLayoutId"`
	ClientType      string `json:"clientType"`
}

func (d Display) Online() bool { return d.LoggedIn == 1 }

type About struct {
	Version   string `json:"version"`
	SourceURL string `json:"sourceUrl"`
}

// ---- menu boards ----

func (c *Client) MenuBoards(ctx context.Context) ([]MenuBoard, error) {
	var out []MenuBoard
	if err := c.getJSON(ctx, "/menuboards", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MenuBoard(ctx context.Context, id int) (*MenuBoard, error) {
	var out []MenuBoard
	if err := c.getJSON(ctx, "/menuboards", url.Values{"menuId": {strconv.Itoa(id)}}, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].ID == id {
			return &out[i], nil
		}
	}
	return nil, &APIError{Status: http.StatusNotFound, Method: http.MethodGet, Path: fmt.Sprintf("/menuboards?menuId=%d", id)}
}

func (c *Client) CreateMenuBoard(ctx context.Context, in MenuBoardInput) (*MenuBoard, error) {
	var out MenuBoard
	if err := c.sendJSON(ctx, http.MethodPost, "/menuboard", in.form(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateMenuBoard(ctx context.Context, id int, in MenuBoardInput) error {
	return c.sendJSON(ctx, http.MethodPut, fmt.Sprintf("/menuboard/%d", id), in.form(), nil)
}

func (c *Client) DeleteMenuBoard(ctx context.Context, id int) error {
	return c.sendJSON(ctx, http.MethodDelete, fmt.Sprintf("/menuboard/%d", id), nil, nil)
}

// ---- categories ----

func (c *Client) Categories(ctx context.Context, menuID int) ([]Category, error) {
	var out []Category
	if err := c.getJSON(ctx, fmt.Sprintf("/menuboard/%d/categories", menuID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateCategory(ctx context.Context, menuID int, in CategoryInput) (*Category, error) {
	var out Category
	if err := c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/menuboard/%d/category", menuID), in.form(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateCategory(ctx context.Context, categoryID int, in CategoryInput) error {
	return c.sendJSON(ctx, http.MethodPut, fmt.Sprintf("/menuboard/%d/category", categoryID), in.form(), nil)
}

func (c *Client) DeleteCategory(ctx context.Context, categoryID int) error {
	return c.sendJSON(ctx, http.MethodDelete, fmt.Sprintf("/menuboard/%d/category", categoryID), nil, nil)
}

// ---- products ----

func (c *Client) Products(ctx context.Context, categoryID int) ([]Product, error) {
	var out []Product
	if err := c.getJSON(ctx, fmt.Sprintf("/menuboard/%d/products", categoryID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateProduct(ctx context.Context, categoryID int, in ProductInput) (*Product, error) {
	var out Product
	if err := c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/menuboard/%d/product", categoryID), in.form(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProduct(ctx context.Context, productID int, in ProductInput) error {
	return c.sendJSON(ctx, http.MethodPut, fmt.Sprintf("/menuboard/%d/product", productID), in.form(), nil)
}

func (c *Client) DeleteProduct(ctx context.Context, productID int) error {
	return c.sendJSON(ctx, http.MethodDelete, fmt.Sprintf("/menuboard/%d/product", productID), nil, nil)
}

// ---- library, layouts, datasets, folders, displays ----

func (c *Client) Media(ctx context.Context) ([]Media, error) {
	var out []Media
	if err := c.getJSON(ctx, "/library", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteMedia(ctx context.Context, id int) error {
	return c.sendJSON(ctx, http.MethodDelete, fmt.Sprintf("/library/%d", id), nil, nil)
}

func (c *Client) Layouts(ctx context.Context) ([]Layout, error) {
	var out []Layout
	if err := c.getJSON(ctx, "/layout", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DataSets(ctx context.Context) ([]DataSet, error) {
	var out []DataSet
	if err := c.getJSON(ctx, "/dataset", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Folders(ctx context.Context) ([]Folder, error) {
	var out []Folder
	if err := c.getJSON(ctx, "/folders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Displays(ctx context.Context) ([]Display, error) {
	var out []Display
	if err := c.getJSON(ctx, "/display", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// About проверяет соединение и учётные данные; ответ не кэшируется.
func (c *Client) About(ctx context.Context) (*About, error) {
	body, err := c.call(ctx, http.MethodGet, "/about", nil, nil)
	if err != nil {
		return nil, err
	}
	var out About
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("cms: decode /about: %w", err)
	}
	return &out, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
