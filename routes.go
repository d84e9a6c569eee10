package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// =======================
// 🧩 Helper Functions
// =======================

// GetIDParam reads the :id path parameter. Browser routes answer a
// malformed id with the same 404 as a missing product.
func GetIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.String(http.StatusNotFound, "Produto não encontrado")
		return 0, false
	}
	return id, true
}

// formImage returns the optional "image" upload, nil when none was sent.
func formImage(c *gin.Context) (*multipart.FileHeader, error) {
	file, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, invalidRequest("image upload: %v", err)
	}
	if file.Size == 0 && file.Filename == "" {
		return nil, nil
	}
	return file, nil
}

func productNotFoundText(c *gin.Context) {
	c.String(http.StatusNotFound, "Produto não encontrado")
}

// =========================
// 🛒 Storefront
// =========================
func ShopRoutes(r *gin.Engine, app *App) {
	r.GET("/", func(c *gin.Context) {
		render(c, http.StatusOK, "home.tmpl", nil)
	})
	r.GET("/produtos", func(c *gin.Context) {
		ListProductsPage(c, app, "produtos.tmpl")
	})
	r.GET("/produto/:id", func(c *gin.Context) {
		ProductPage(c, app, "produto.tmpl")
	})
	r.GET("/produtos/comprar/:id", func(c *gin.Context) {
		ProductPage(c, app, "comprar.tmpl")
	})
	r.POST("/produtos/comprar/:id", func(c *gin.Context) {
		BuySingleProduct(c, app)
	})
	r.GET("/produtos/checkout", func(c *gin.Context) {
		render(c, http.StatusOK, "checkout.tmpl", gin.H{"title": "Carrinho"})
	})
	r.POST("/produtos/get-cart-items", func(c *gin.Context) {
		GetCartItems(c, app)
	})
	r.POST("/produtos/checkout", func(c *gin.Context) {
		Checkout(c, app)
	})
}

// ++++++++++++++++++++++++
//
//	Product READ
//
// +++++++++++++++++++++++++
func ListProductsPage(c *gin.Context, app *App, tmpl string) {
	products, err := app.catalog.ListProducts(c.Request.Context())
	if err != nil {
		log.Printf("❌ failed to list products: %v", err)
		c.String(http.StatusInternalServerError, "Erro ao buscar produtos")
		return
	}
	render(c, http.StatusOK, tmpl, gin.H{"title": "Produtos", "produtos": products})
}

func ProductPage(c *gin.Context, app *App, tmpl string) {
	id, ok := GetIDParam(c)
	if !ok {
		return
	}
	p, found, err := app.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		log.Printf("❌ failed to get product %d: %v", id, err)
		c.String(http.StatusInternalServerError, "Erro ao buscar produto")
		return
	}
	if !found {
		productNotFoundText(c)
		return
	}
	render(c, http.StatusOK, tmpl, gin.H{"title": p.Title, "produto": p})
}

// ++++++++++++++++++++++++
//
//	Cart
//
// +++++++++++++++++++++++++
type cartItemsInput struct {
	CartItems json.RawMessage `json:"cartItems"`
}

// parseCartIDs accepts numbers or numeric strings, as browsers store either.
func parseCartIDs(raw json.RawMessage) ([]int, bool) {
	var values []any
	if len(raw) == 0 || json.Unmarshal(raw, &values) != nil || values == nil {
		return nil, false
	}
	seen := make(map[int]bool, len(values))
	ids := make([]int, 0, len(values))
	for _, v := range values {
		var id int
		switch x := v.(type) {
		case float64:
			id = int(x)
			if float64(id) != x {
				continue
			}
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(x))
			if err != nil {
				continue
			}
			id = n
		default:
			continue
		}
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, true
}

func GetCartItems(c *gin.Context, app *App) {
	var input cartItemsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "❌ Dados do carrinho inválidos"})
		return
	}
	ids, ok := parseCartIDs(input.CartItems)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "❌ Dados do carrinho inválidos"})
		return
	}

	items, err := app.catalog.ResolveCart(c.Request.Context(), ids)
	if err != nil {
		log.Printf("❌ failed to resolve cart: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "❌ Erro ao processar carrinho"})
		return
	}
	c.JSON(http.StatusOK, items)
}

// ++++++++++++++++++++++++
//
//	Checkout
//
// +++++++++++++++++++++++++
const idempotencyHeader = "Idempotency-Key"

func Checkout(c *gin.Context, app *App) {
	ctx := c.Request.Context()

	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "❌ Dados incompletos"})
		return
	}

	key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	var fingerprint string
	if key != "" && app.idempotency != nil {
		var err error
		if fingerprint, err = requestFingerprint(req); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "❌ Erro no servidor"})
			return
		}
		stored, claimed, err := app.idempotency.Claim(ctx, key, fingerprint)
		switch {
		case errors.Is(err, ErrKeyInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "❌ Pedido já está sendo processado"})
			return
		case errors.Is(err, ErrKeyReused):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "❌ Chave de idempotência já usada em outro pedido"})
			return
		case err != nil:
			log.Printf("❌ idempotency claim failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "❌ Erro no servidor"})
			return
		case !claimed:
			c.Data(http.StatusOK, "application/json; charset=utf-8", stored)
			return
		}
	} else {
		key = ""
	}

	result, err := app.checkout.SubmitOrder(ctx, req)
	if err != nil {
		if key != "" {
			if relErr := app.idempotency.Release(ctx, key); relErr != nil {
				log.Printf("⚠️ failed to release idempotency key: %v", relErr)
			}
		}
		writeCheckoutError(c, err)
		return
	}

	body, err := json.Marshal(gin.H{
		"success":     true,
		"whatsappUrl": result.HandoffURL,
		"orderId":     result.OrderID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "❌ Erro no servidor"})
		return
	}
	if key != "" {
		if err := app.idempotency.Complete(ctx, key, fingerprint, body); err != nil {
			log.Printf("⚠️ failed to store idempotent response: %v", err)
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func writeCheckoutError(c *gin.Context, err error) {
	var notFound *ProductNotFoundError
	var shortage *InsufficientStockError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "❌ Dados incompletos", "detail": err.Error()})
	case errors.As(err, &notFound):
		name := notFound.Title
		if name == "" {
			name = strconv.Itoa(notFound.ID)
		}
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("❌ Produto %s não encontrado", name),
			"id":    notFound.ID,
		})
	case errors.As(err, &shortage):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":           "❌ Estoque insuficiente para alguns itens",
			"itensSemEstoque": shortage.Items,
		})
	case errors.Is(err, ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": "❌ Estoque alterado durante o pedido, tente novamente"})
	default:
		log.Printf("❌ checkout failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "❌ Erro no servidor"})
	}
}

type buyInput struct {
	Name    string `form:"nome"`
	Payment string `form:"pagamento"`
	Notes   string `form:"observacoes"`
}

// BuySingleProduct checks out one unit of a product straight from its page
// and sends the browser to the hand-off link.
func BuySingleProduct(c *gin.Context, app *App) {
	id, ok := GetIDParam(c)
	if !ok {
		return
	}
	var input buyInput
	if err := c.ShouldBind(&input); err != nil {
		c.String(http.StatusBadRequest, "Dados incompletos")
		return
	}
	notes := input.Notes
	if strings.TrimSpace(notes) == "" {
		notes = emptyNotesMarker
	}

	result, err := app.checkout.SubmitOrder(c.Request.Context(), OrderRequest{
		CustomerName:  input.Name,
		PaymentMethod: input.Payment,
		Notes:         notes,
		Items:         []LineItem{{ProductID: id, Quantity: 1}},
	})
	switch {
	case err == nil:
		c.Redirect(http.StatusFound, result.HandoffURL)
	case errors.Is(err, ErrInvalidRequest):
		c.String(http.StatusBadRequest, "Dados incompletos")
	case errors.Is(err, ErrProductNotFound):
		productNotFoundText(c)
	case errors.Is(err, ErrInsufficientStock):
		c.String(http.StatusBadRequest, "Produto sem estoque")
	default:
		log.Printf("❌ purchase of product %d failed: %v", id, err)
		c.String(http.StatusInternalServerError, "Erro ao processar pedido")
	}
}

//~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~

// =========================
// 📦 Product Management
// =========================
func AdminProductRoutes(r *gin.Engine, app *App) {
	api := r.Group("/admin/produtos")

	// 🔐 Admin only
	api.Use(AdminAuth())
	{
		api.GET("", func(c *gin.Context) {
			ListProductsPage(c, app, "admin_produtos.tmpl")
		})
		api.GET("/cadastro", func(c *gin.Context) {
			render(c, http.StatusOK, "admin_cadastro.tmpl", gin.H{"title": "Novo produto"})
		})
		api.POST("/cadastro", func(c *gin.Context) {
			CreateProduct(c, app)
		})
		api.GET("/editar/:id", func(c *gin.Context) {
			ProductPage(c, app, "admin_editar.tmpl")
		})
		api.POST("/edicao/:id", func(c *gin.Context) {
			UpdateProduct(c, app)
		})
		api.POST("/deletar/:id", func(c *gin.Context) {
			DeleteProduct(c, app)
		})
	}
}

// ++++++++++++++++++++++++
//
//	Product CREATE
//
// +++++++++++++++++++++++++
func CreateProduct(c *gin.Context, app *App) {
	var input ProductInput
	if err := c.ShouldBind(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "❌ Erro de validação", "details": []string{err.Error()}})
		return
	}
	image, err := formImage(c)
	if err == nil {
		_, err = app.products.Create(c.Request.Context(), input, image)
	}

	switch {
	case err == nil:
		c.Redirect(http.StatusFound, "/admin/produtos")
	case errors.Is(err, ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "❌ Preço inválido",
			"message": "O preço deve ser um número válido (ex: 12,99 ou 12.99)",
		})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "❌ Erro de validação", "details": []string{err.Error()}})
	default:
		log.Printf("❌ failed to create product: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "❌ Erro ao cadastrar produto"})
	}
}

// ++++++++++++++++++++++++
//
//	Product UPDATE
//
// ++++++++++++++++++++++++
func UpdateProduct(c *gin.Context, app *App) {
	id, ok := GetIDParam(c)
	if !ok {
		return
	}
	var input ProductInput
	if err := c.ShouldBind(&input); err != nil {
		c.String(http.StatusBadRequest, "Dados do produto inválidos")
		return
	}
	image, err := formImage(c)
	if err == nil {
		_, err = app.products.Edit(c.Request.Context(), id, input, image)
	}

	switch {
	case err == nil:
		c.Redirect(http.StatusFound, "/admin/produtos")
	case errors.Is(err, ErrProductNotFound):
		productNotFoundText(c)
	case errors.Is(err, ErrStaleEdit):
		c.String(http.StatusConflict, "O estoque mudou desde que a página foi aberta, recarregue e tente de novo")
	case errors.Is(err, ErrInvalidPrice):
		c.String(http.StatusBadRequest, "Preço inválido: use 12,99 ou 12.99")
	case errors.Is(err, ErrInvalidRequest):
		c.String(http.StatusBadRequest, "Dados do produto inválidos: %v", err)
	default:
		log.Printf("❌ failed to update product %d: %v", id, err)
		c.String(http.StatusInternalServerError, "Erro ao editar produto")
	}
}

// ++++++++++++++++++++++++
//
//	Product DELETE
//
// ++++++++++++++++++++++++
func DeleteProduct(c *gin.Context, app *App) {
	id, ok := GetIDParam(c)
	if !ok {
		return
	}

	err := app.products.Delete(c.Request.Context(), id)
	switch {
	case err == nil:
		c.Redirect(http.StatusFound, "/admin/produtos")
	case errors.Is(err, ErrProductNotFound):
		productNotFoundText(c)
	default:
		log.Printf("❌ failed to delete product %d: %v", id, err)
		c.String(http.StatusInternalServerError, "Erro ao excluir produto")
	}
}
